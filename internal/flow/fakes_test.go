package flow

import (
	"context"
	"errors"
	"sync"

	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/storage"
)

type fakeFlows struct {
	flows map[int64]*domain.Flow
}

func (f *fakeFlows) FlowWithSteps(_ context.Context, id int64) (*domain.Flow, error) {
	fl, ok := f.flows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *fl
	cp.Steps = append([]domain.Step(nil), fl.Steps...)
	return &cp, nil
}

type fakeClients struct {
	mu      sync.Mutex
	current map[int64]*int64
}

func newFakeClients() *fakeClients {
	return &fakeClients{current: make(map[int64]*int64)}
}

func (c *fakeClients) SetCurrentFlow(_ context.Context, clientID int64, flowID *int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current[clientID] = flowID
	return nil
}

func (c *fakeClients) get(clientID int64) *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current[clientID]
}

type fakeResponses struct {
	mu   sync.Mutex
	rows []domain.FlowResponse
}

func (r *fakeResponses) InsertFlowResponse(_ context.Context, resp *domain.FlowResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *resp)
	return nil
}

type sent struct {
	reply domain.Reply
	tags  domain.FlowTags
}

type fakeTranscript struct {
	mu       sync.Mutex
	sent     []sent
	inbound  []domain.Message
	notes    []string
	failSend bool
}

func (t *fakeTranscript) Emit(_ context.Context, client *domain.Client, reply domain.Reply, tags domain.FlowTags) (*domain.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSend {
		return nil, errors.New("telegram unavailable")
	}
	t.sent = append(t.sent, sent{reply: reply, tags: tags})
	m := &domain.Message{ClientID: client.ID, Content: reply.Text, IsFromBot: true}
	tags.Apply(m)
	return m, nil
}

func (t *fakeTranscript) RecordInbound(_ context.Context, client *domain.Client, content string, _ int, tags domain.FlowTags) (*domain.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := domain.Message{ClientID: client.ID, Content: content}
	tags.Apply(&m)
	t.inbound = append(t.inbound, m)
	return &m, nil
}

func (t *fakeTranscript) RecordNote(_ context.Context, _ *domain.Client, content string, _ domain.FlowTags) (*domain.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notes = append(t.notes, content)
	return &domain.Message{Content: content, Sender: domain.SenderSystem}, nil
}

func (t *fakeTranscript) last() sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return sent{}
	}
	return t.sent[len(t.sent)-1]
}

type stubSummarizer struct {
	text string
	err  error
	got  SummaryInput
}

func (s *stubSummarizer) Summarize(_ context.Context, in SummaryInput) (string, error) {
	s.got = in
	return s.text, s.err
}

type harness struct {
	engine     *Engine
	clients    *fakeClients
	responses  *fakeResponses
	transcript *fakeTranscript
	client     *domain.Client
}

func newHarness(opts Options, flows ...*domain.Flow) *harness {
	h := &harness{
		clients:    newFakeClients(),
		responses:  &fakeResponses{},
		transcript: &fakeTranscript{},
		client:     &domain.Client{ID: 7, TelegramID: 700, IsDialogOpen: true},
	}
	src := &fakeFlows{flows: make(map[int64]*domain.Flow)}
	for _, f := range flows {
		src.flows[f.ID] = f
	}
	h.engine = NewEngine(Deps{
		Flows:      src,
		Clients:    h.clients,
		Responses:  h.responses,
		Transcript: h.transcript,
	}, opts)
	return h
}

func ptr(v int64) *int64 { return &v }

func textStep(id int64, order int) domain.Step {
	return domain.Step{ID: id, FlowID: 1, OrderIndex: order, Question: "question", ResponseType: "text"}
}

func flowOf(steps ...domain.Step) *domain.Flow {
	return &domain.Flow{ID: 1, Name: "Onboarding", IsActive: true, Steps: steps}
}
