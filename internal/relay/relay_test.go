package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Nemu-x/botlab/core/telegram/callbacks"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/flow"
	"github.com/Nemu-x/botlab/internal/invite"
	"github.com/Nemu-x/botlab/internal/storage"
	"github.com/Nemu-x/botlab/internal/survey"
)

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	clients  map[int64]*domain.Client
	messages []domain.Message
	commands []domain.Command
	flows    map[int64]*domain.Flow
}

func newMemStore() *memStore {
	return &memStore{clients: make(map[int64]*domain.Client), flows: make(map[int64]*domain.Flow)}
}

func (s *memStore) UpsertClient(_ context.Context, p domain.Profile) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.TelegramID == p.TelegramID {
			c.Username = p.Username
			cp := *c
			return &cp, nil
		}
	}
	s.nextID++
	c := &domain.Client{ID: s.nextID, TelegramID: p.TelegramID, ChatID: p.ChatID, Username: p.Username, IsDialogOpen: true}
	s.clients[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memStore) GetClient(_ context.Context, id int64) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetClientByTelegramID(_ context.Context, telegramID int64) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.TelegramID == telegramID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) SetDialogOpen(_ context.Context, id int64, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.IsDialogOpen = open
	return nil
}

func (s *memStore) SetCurrentFlow(_ context.Context, id int64, flowID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		c.CurrentFlowID = flowID
	}
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = int64(len(s.messages) + 1)
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memStore) ActiveCommands(context.Context) ([]domain.Command, error) {
	return s.commands, nil
}

func (s *memStore) FlowWithSteps(_ context.Context, id int64) (*domain.Flow, error) {
	f, ok := s.flows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *f
	cp.Steps = append([]domain.Step(nil), f.Steps...)
	return &cp, nil
}

func (s *memStore) fromClient() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.Sender == domain.SenderClient {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) setClient(telegramID int64, fn func(c *domain.Client)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.TelegramID == telegramID {
			fn(c)
		}
	}
}

type recordingSender struct {
	mu      sync.Mutex
	replies []domain.Reply
}

func (s *recordingSender) Send(_ context.Context, _ int64, reply domain.Reply) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply)
	return 1000 + len(s.replies), nil
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.replies))
	for _, r := range s.replies {
		out = append(out, r.Text)
	}
	return out
}

type countingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *countingPublisher) Publish(kind string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
}

type fixture struct {
	store  *memStore
	sender *recordingSender
	pub    *countingPublisher
	relay  *Relay
	engine *flow.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), sender: &recordingSender{}, pub: &countingPublisher{}}
	f.store.flows[1] = &domain.Flow{ID: 1, Name: "Support", IsActive: true, Steps: []domain.Step{
		{ID: 11, FlowID: 1, OrderIndex: 1, Question: "What is your order number?", ResponseType: "text"},
		{ID: 12, FlowID: 1, OrderIndex: 2, Question: "Describe the issue", ResponseType: "callback",
			Options: domain.Options{{Text: "Broken", Value: "broken"}, {Text: "Late", Value: "late"}}},
		{ID: 13, FlowID: 1, OrderIndex: 3, Question: "Thanks", ResponseType: "final", IsFinal: true},
	}}
	f.store.commands = []domain.Command{
		{ID: 1, Trigger: "help", MatchType: domain.MatchExact, Response: "help text", Priority: 1, IsActive: true},
		{ID: 2, Trigger: "price", MatchType: domain.MatchContains, Response: "prices", Priority: 5, IsActive: true},
		{ID: 3, Trigger: "([", MatchType: domain.MatchRegex, Response: "never", Priority: 9, IsActive: true},
		{ID: 4, Trigger: "survey", MatchType: domain.MatchStartsWith, Response: "Starting", FlowID: ptr(1), IsActive: true},
	}
	f.relay = New(f.store, f.sender, f.pub, Texts{})
	f.engine = flow.NewEngine(flow.Deps{
		Flows:      f.store,
		Clients:    f.store,
		Transcript: f.relay,
	}, flow.Options{})
	f.relay.SetFlowRunner(f.engine)
	if err := f.relay.ReloadCommands(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return f
}

func ptr(v int64) *int64 { return &v }

func profile() domain.Profile {
	return domain.Profile{TelegramID: 500, ChatID: 500, Username: "alice"}
}

func (f *fixture) say(t *testing.T, text string) {
	t.Helper()
	if err := f.relay.HandleMessage(context.Background(), Inbound{Profile: profile(), Text: text, MessageID: 1}); err != nil {
		t.Fatalf("handle %q: %v", text, err)
	}
}

func TestCommandMatchingByPriority(t *testing.T) {
	f := newFixture(t)
	f.say(t, "HELP")
	f.say(t, "what is the price of help")
	f.say(t, "nothing here")

	got := f.sender.texts()
	want := []string{"help text", "prices"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("replies %q, want %q", got, want)
	}
	if len(f.store.messages) != 5 {
		t.Fatalf("expected 3 inbound + 2 outbound messages, got %d", len(f.store.messages))
	}
}

func TestActiveSurveyIsNotDerailedByCommands(t *testing.T) {
	f := newFixture(t)
	f.say(t, "survey please")

	texts := f.sender.texts()
	if len(texts) != 2 || texts[0] != "Starting" || !strings.Contains(texts[1], "What is your order number?") {
		t.Fatalf("unexpected replies %q", texts)
	}

	// "help" matches a command, but the survey owns the conversation.
	f.say(t, "help")
	texts = f.sender.texts()
	if last := texts[len(texts)-1]; !strings.Contains(last, "Describe the issue") {
		t.Fatalf("survey must advance, last reply %q", last)
	}
	for _, txt := range texts {
		if txt == "help text" {
			t.Fatalf("command fired during an active survey")
		}
	}

	st, err := f.engine.Active(context.Background(), 1)
	if err != nil || st.Answers["step_11"] != "help" {
		t.Fatalf("answer not recorded: %+v err=%v", st, err)
	}
	inbound := 0
	for _, m := range f.store.messages {
		if m.Content == "help" {
			inbound++
			if m.FlowStepID == nil || *m.FlowStepID != 11 {
				t.Fatalf("inbound answer must be tagged with step 11: %+v", m)
			}
		}
	}
	if inbound != 1 {
		t.Fatalf("answer recorded %d times", inbound)
	}
}

func TestDialogClosedShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.say(t, "survey")
	f.store.setClient(500, func(c *domain.Client) { c.IsDialogOpen = false })
	before := len(f.sender.texts())

	f.say(t, "123")
	texts := f.sender.texts()
	if len(texts) != before+1 || texts[len(texts)-1] != DefaultTexts().DialogClosed {
		t.Fatalf("expected dialog closed reply, got %q", texts)
	}
	st, _ := f.engine.Active(context.Background(), 1)
	if st == nil || st.CurrentStepIndex != 0 {
		t.Fatalf("survey must not advance while the dialog is closed")
	}
}

func TestBlockedClientIsRecordedOnly(t *testing.T) {
	f := newFixture(t)
	f.say(t, "hi")
	f.store.setClient(500, func(c *domain.Client) { c.IsBlocked = true })
	f.say(t, "help")
	if len(f.sender.texts()) != 0 {
		t.Fatalf("blocked clients get no replies: %q", f.sender.texts())
	}
	if len(f.store.messages) != 2 {
		t.Fatalf("inbound must still be recorded, got %d", len(f.store.messages))
	}
	if _, err := f.relay.SendOperatorMessage(context.Background(), 1, "hello"); !errors.Is(err, ErrClientBlocked) {
		t.Fatalf("expected ErrClientBlocked, got %v", err)
	}
}

func TestCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	toast, err := f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: "garbage"})
	if err != nil || toast != DefaultTexts().FailureToast {
		t.Fatalf("malformed callback: toast=%q err=%v", toast, err)
	}

	start, _, _ := callbacks.Encode(callbacks.Token{Action: callbacks.ActionStartFlow, Value: "1"})
	if _, err := f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: start}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.say(t, "A-1001")

	answer, _, _ := callbacks.Encode(callbacks.Token{Action: callbacks.ActionFlowResponse, StepID: 12, Value: "late"})
	toast, err = f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: answer, MessageID: 77})
	if err != nil || toast != "" {
		t.Fatalf("flow response: toast=%q err=%v", toast, err)
	}
	st, err := f.engine.Active(ctx, 1)
	if err != nil || st.Answers["step_12"] != "late" {
		t.Fatalf("button answer not recorded: %+v err=%v", st, err)
	}

	// Step 13 is final; a tap on a stale button afterwards reports expiry.
	f.say(t, "ok")
	toast, err = f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: answer})
	if err != nil || toast != DefaultTexts().ExpiredToast {
		t.Fatalf("stale button: toast=%q err=%v", toast, err)
	}

	decline, _, _ := callbacks.Encode(callbacks.Token{Action: callbacks.ActionDeclineFlow, Value: "1"})
	if _, err := f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: decline}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	texts := f.sender.texts()
	if texts[len(texts)-1] != DefaultTexts().Declined {
		t.Fatalf("expected decline text, got %q", texts[len(texts)-1])
	}
}

func TestOrphanedFlowPointerIsReconciled(t *testing.T) {
	f := newFixture(t)
	f.say(t, "hello")
	f.store.setClient(500, func(c *domain.Client) { c.CurrentFlowID = ptr(1) })

	f.say(t, "help")
	c, _ := f.store.GetClient(context.Background(), 1)
	if c.CurrentFlowID != nil {
		t.Fatalf("orphaned current_flow_id must be cleared")
	}
	texts := f.sender.texts()
	if texts[len(texts)-1] != "help text" {
		t.Fatalf("commands must run after reconciliation, got %q", texts)
	}
}

func TestReloadCommandsSwapsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.store.commands = []domain.Command{{ID: 9, Trigger: "hours", MatchType: domain.MatchExact, Response: "9-18", IsActive: true}}
	if err := f.relay.ReloadCommands(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	f.say(t, "help")
	f.say(t, "hours")
	if got := f.sender.texts(); len(got) != 1 || got[0] != "9-18" {
		t.Fatalf("old snapshot still in use: %q", got)
	}
}

func TestAdmitGatesBotCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client, ok, err := f.relay.Admit(ctx, Inbound{Profile: profile(), Text: "/start", MessageID: 7})
	if err != nil || !ok {
		t.Fatalf("admit open dialog: ok=%v err=%v", ok, err)
	}
	if len(f.store.messages) != 1 || f.store.messages[0].Content != "/start" {
		t.Fatalf("command not recorded: %+v", f.store.messages)
	}

	f.store.setClient(client.TelegramID, func(c *domain.Client) { c.IsDialogOpen = false })
	if _, ok, _ := f.relay.Admit(ctx, Inbound{Profile: profile(), Text: "/start"}); ok {
		t.Fatal("closed dialog must not be admitted")
	}
	if got := f.sender.texts(); len(got) != 1 || got[0] != DefaultTexts().DialogClosed {
		t.Fatalf("closed dialog reply = %v", got)
	}

	f.store.setClient(client.TelegramID, func(c *domain.Client) { c.IsBlocked = true })
	if _, ok, _ := f.relay.Admit(ctx, Inbound{Profile: profile(), Text: "/start"}); ok {
		t.Fatal("blocked client must not be admitted")
	}
	if got := f.sender.texts(); len(got) != 1 {
		t.Fatalf("blocked client got a reply: %v", got)
	}
}

func TestCallbacksLandOnTranscript(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	decline, _, _ := callbacks.Encode(callbacks.Token{Action: callbacks.ActionDeclineFlow, Value: "1"})
	if _, err := f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: decline, MessageID: 40}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	in := f.store.fromClient()
	if len(in) != 1 || in[0].Content != "decline_flow:1" || in[0].TelegramMessageID == nil || *in[0].TelegramMessageID != 40 {
		t.Fatalf("decline tap not recorded: %+v", in)
	}

	if _, err := f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: "garbage"}); err != nil {
		t.Fatalf("malformed: %v", err)
	}
	if in = f.store.fromClient(); len(in) != 2 || in[1].Content != "garbage" {
		t.Fatalf("malformed tap not recorded: %+v", in)
	}

	f.store.setClient(500, func(c *domain.Client) { c.IsBlocked = true })
	sent := len(f.sender.texts())
	start, _, _ := callbacks.Encode(callbacks.Token{Action: callbacks.ActionStartFlow, Value: "1"})
	if _, err := f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: start}); err != nil {
		t.Fatalf("blocked start: %v", err)
	}
	if in = f.store.fromClient(); len(in) != 3 || in[2].Content != "start_flow:1" {
		t.Fatalf("blocked tap not recorded: %+v", in)
	}
	if len(f.sender.texts()) != sent {
		t.Fatalf("blocked client got a reply: %q", f.sender.texts())
	}
	if _, err := f.engine.Active(ctx, 1); !errors.Is(err, survey.ErrNoState) {
		t.Fatalf("blocked tap must not start a survey, err=%v", err)
	}
}

func TestButtonAnswerRecordedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.say(t, "survey")
	f.say(t, "A-1001")

	answer, _, _ := callbacks.Encode(callbacks.Token{Action: callbacks.ActionFlowResponse, StepID: 12, Value: "broken"})
	if _, err := f.relay.HandleCallback(ctx, Callback{Profile: profile(), Data: answer, MessageID: 9}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	rows := 0
	for _, m := range f.store.fromClient() {
		if m.Content != "broken" {
			continue
		}
		rows++
		if m.FlowID == nil || *m.FlowID != 1 || m.FlowStepID == nil || *m.FlowStepID != 12 {
			t.Fatalf("answer must be tagged with flow 1 step 12: %+v", m)
		}
	}
	if rows != 1 {
		t.Fatalf("button answer recorded %d times", rows)
	}
}

func TestNothingIsSentToBlockedClients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.say(t, "hi")
	f.store.setClient(500, func(c *domain.Client) { c.IsBlocked = true })
	before := len(f.store.messages)

	inv := invite.NewDispatcher(f.store, f.relay, invite.Texts{})
	if _, err := inv.SendInvitation(ctx, invite.Target{ClientID: 1}, 1, ""); !errors.Is(err, ErrClientBlocked) {
		t.Fatalf("expected ErrClientBlocked, got %v", err)
	}
	client, _ := f.store.GetClient(ctx, 1)
	if err := f.engine.Start(ctx, client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.sender.texts(); len(got) != 0 {
		t.Fatalf("blocked client received %q", got)
	}
	if len(f.store.messages) != before {
		t.Fatalf("undelivered replies must not be recorded, got %d rows", len(f.store.messages)-before)
	}
}

// finishedRunner reports a survey that is gone by the time the answer arrives.
type finishedRunner struct {
	advanced int
}

func (r *finishedRunner) Start(context.Context, *domain.Client, int64) error { return nil }

func (r *finishedRunner) Reconcile(context.Context, *domain.Client) (bool, error) { return false, nil }

func (r *finishedRunner) Active(_ context.Context, clientID int64) (*survey.State, error) {
	return survey.New(clientID, domain.Flow{ID: 1, Steps: []domain.Step{{ID: 11, FlowID: 1, OrderIndex: 1}}}), nil
}

func (r *finishedRunner) Advance(context.Context, *domain.Client, flow.Answer) (flow.Outcome, error) {
	r.advanced++
	return flow.Outcome{Status: flow.StatusNotActive}, nil
}

func TestTextFallsThroughWhenSurveyEndsConcurrently(t *testing.T) {
	f := newFixture(t)
	runner := &finishedRunner{}
	f.relay.SetFlowRunner(runner)

	f.say(t, "help")
	if runner.advanced != 1 {
		t.Fatalf("advance calls = %d", runner.advanced)
	}
	if got := f.sender.texts(); len(got) != 1 || got[0] != "help text" {
		t.Fatalf("text must reach command matching, replies %q", got)
	}
}
