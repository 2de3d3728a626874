package bot

import (
	"context"
	"testing"

	tg "github.com/Nemu-x/botlab/core/telegram"
	"github.com/Nemu-x/botlab/core/telegram/callbacks"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/relay"
	"github.com/Nemu-x/botlab/internal/storage"

	tele "gopkg.in/telebot.v4"
)

// fakeContext implements the parts of tele.Context the handlers touch.
type fakeContext struct {
	tele.Context
	msg       *tele.Message
	cb        *tele.Callback
	store     map[string]any
	responses []*tele.CallbackResponse
	sent      []string
}

func newMessageContext(text, payload string) *fakeContext {
	return &fakeContext{
		msg: &tele.Message{
			ID:      10,
			Text:    text,
			Payload: payload,
			Sender:  &tele.User{ID: 501, FirstName: "Ann", LanguageCode: "en"},
			Chat:    &tele.Chat{ID: 501},
		},
		store: map[string]any{},
	}
}

func (f *fakeContext) Update() tele.Update { return tele.Update{ID: 1, Message: f.msg} }
func (f *fakeContext) Message() *tele.Message {
	if f.cb != nil {
		return f.cb.Message
	}
	return f.msg
}
func (f *fakeContext) Callback() *tele.Callback { return f.cb }
func (f *fakeContext) Sender() *tele.User {
	if f.cb != nil {
		return f.cb.Sender
	}
	return f.msg.Sender
}
func (f *fakeContext) Chat() *tele.Chat {
	if f.msg != nil {
		return f.msg.Chat
	}
	return nil
}
func (f *fakeContext) Text() string {
	if f.msg != nil {
		return f.msg.Text
	}
	return ""
}
func (f *fakeContext) Get(key string) any      { return f.store[key] }
func (f *fakeContext) Set(key string, val any) { f.store[key] = val }
func (f *fakeContext) Send(what any, _ ...any) error {
	f.sent = append(f.sent, what.(string))
	return nil
}
func (f *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	if len(resp) == 0 {
		f.responses = append(f.responses, nil)
		return nil
	}
	f.responses = append(f.responses, resp[0])
	return nil
}

type fakeRelay struct {
	admitted  []relay.Inbound
	messages  []relay.Inbound
	callbacks []relay.Callback
	said      []string
	reloads   int
	closed    bool
	toast     string
}

func (r *fakeRelay) HandleMessage(_ context.Context, in relay.Inbound) error {
	r.messages = append(r.messages, in)
	return nil
}

func (r *fakeRelay) HandleCallback(_ context.Context, cb relay.Callback) (string, error) {
	r.callbacks = append(r.callbacks, cb)
	return r.toast, nil
}

func (r *fakeRelay) Admit(_ context.Context, in relay.Inbound) (*domain.Client, bool, error) {
	r.admitted = append(r.admitted, in)
	return &domain.Client{ID: 7, TelegramID: in.Profile.TelegramID, IsDialogOpen: !r.closed}, !r.closed, nil
}

func (r *fakeRelay) Say(_ context.Context, _ *domain.Client, text string) {
	r.said = append(r.said, text)
}

func (r *fakeRelay) ReloadCommands(context.Context) error {
	r.reloads++
	return nil
}

type fakeFlows struct {
	started   []int64
	cancelled bool
	cancels   int
}

func (f *fakeFlows) Start(_ context.Context, _ *domain.Client, flowID int64) error {
	f.started = append(f.started, flowID)
	return nil
}

func (f *fakeFlows) StartFlow(_ context.Context, _ *domain.Client, fl *domain.Flow) error {
	f.started = append(f.started, fl.ID)
	return nil
}

func (f *fakeFlows) Cancel(context.Context, *domain.Client) (bool, error) {
	f.cancels++
	return f.cancelled, nil
}

type fakeDefaults struct{ flow *domain.Flow }

func (d fakeDefaults) DefaultFlow(context.Context) (*domain.Flow, error) {
	if d.flow == nil {
		return nil, storage.ErrNotFound
	}
	return d.flow, nil
}

func TestParseDeepLink(t *testing.T) {
	cases := map[string]struct {
		id int64
		ok bool
	}{
		"flow_12":  {12, true},
		" flow_3 ": {3, true},
		"flow_":    {0, false},
		"flow_-1":  {0, false},
		"flow_abc": {0, false},
		"promo":    {0, false},
		"":         {0, false},
	}
	for payload, want := range cases {
		id, ok := ParseDeepLink(payload)
		if id != want.id || ok != want.ok {
			t.Fatalf("ParseDeepLink(%q) = %d, %v; want %d, %v", payload, id, ok, want.id, want.ok)
		}
	}
}

func TestMarkupPrefersInline(t *testing.T) {
	m := Markup(domain.Reply{
		Text:     "pick",
		Inline:   [][]domain.Button{{{Text: "Yes", Data: "y"}, {Text: "Site", URL: "https://example.com"}}},
		Keyboard: [][]string{{"ignored"}},
	})
	if m == nil || len(m.InlineKeyboard) != 1 || len(m.InlineKeyboard[0]) != 2 {
		t.Fatalf("unexpected inline markup: %+v", m)
	}
	if m.InlineKeyboard[0][0].Data != "y" || m.InlineKeyboard[0][1].URL != "https://example.com" {
		t.Fatalf("buttons = %+v", m.InlineKeyboard[0])
	}
	if len(m.ReplyKeyboard) != 0 {
		t.Fatalf("reply keyboard must be dropped when inline buttons exist")
	}
}

func TestMarkupKeyboardAndRemoval(t *testing.T) {
	m := Markup(domain.Reply{Keyboard: [][]string{{"A", "B"}, {"C"}}, OneTimeKeyboard: true})
	if m == nil || len(m.ReplyKeyboard) != 2 || !m.OneTimeKeyboard || !m.ResizeKeyboard {
		t.Fatalf("unexpected reply markup: %+v", m)
	}
	if m := Markup(domain.Reply{RemoveKeyboard: true}); m == nil || !m.RemoveKeyboard {
		t.Fatalf("expected remove keyboard markup")
	}
	if m := Markup(domain.Reply{Text: "plain"}); m != nil {
		t.Fatalf("plain reply must not carry markup: %+v", m)
	}
}

func TestSenderRequiresBot(t *testing.T) {
	s := NewSender(nil)
	if _, err := s.Send(context.Background(), 1, domain.Reply{Text: "hi"}); err != ErrBotNotReady {
		t.Fatalf("err = %v, want ErrBotNotReady", err)
	}
}

func TestStartDeepLinkStartsFlow(t *testing.T) {
	r := &fakeRelay{}
	flows := &fakeFlows{}
	h := New(r, flows, fakeDefaults{}, Texts{})

	if err := h.start(newMessageContext("/start flow_4", "flow_4")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(r.admitted) != 1 || r.admitted[0].Profile.TelegramID != 501 || r.admitted[0].MessageID != 10 {
		t.Fatalf("admitted = %+v", r.admitted)
	}
	if len(flows.started) != 1 || flows.started[0] != 4 {
		t.Fatalf("started = %v", flows.started)
	}
	if len(r.said) != 0 {
		t.Fatalf("deep link must not greet, said %v", r.said)
	}
}

func TestStartGreetsAndOffersDefaultFlow(t *testing.T) {
	r := &fakeRelay{}
	flows := &fakeFlows{}
	h := New(r, flows, fakeDefaults{flow: &domain.Flow{ID: 9}}, Texts{Greeting: "hey"})

	if err := h.start(newMessageContext("/start", "")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(r.said) != 1 || r.said[0] != "hey" {
		t.Fatalf("said = %v", r.said)
	}
	if len(flows.started) != 1 || flows.started[0] != 9 {
		t.Fatalf("started = %v", flows.started)
	}
}

func TestStartWithoutDefaultFlowOnlyGreets(t *testing.T) {
	r := &fakeRelay{}
	flows := &fakeFlows{}
	h := New(r, flows, fakeDefaults{}, Texts{})

	if err := h.start(newMessageContext("/start", "")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(r.said) != 1 || len(flows.started) != 0 {
		t.Fatalf("said = %v, started = %v", r.said, flows.started)
	}
}

func TestStartOnClosedDialogDoesNothing(t *testing.T) {
	r := &fakeRelay{closed: true}
	flows := &fakeFlows{}
	h := New(r, flows, fakeDefaults{flow: &domain.Flow{ID: 9}}, Texts{})

	if err := h.start(newMessageContext("/start flow_4", "flow_4")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(flows.started) != 0 || len(r.said) != 0 {
		t.Fatalf("closed dialog must not start flows: started=%v said=%v", flows.started, r.said)
	}
}

func TestCancelWithoutSurvey(t *testing.T) {
	r := &fakeRelay{}
	flows := &fakeFlows{}
	h := New(r, flows, nil, Texts{NothingToStop: "nothing"})

	if err := h.cancel(newMessageContext("/cancel", "")); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if flows.cancels != 1 || len(r.said) != 1 || r.said[0] != "nothing" {
		t.Fatalf("cancels=%d said=%v", flows.cancels, r.said)
	}

	flows.cancelled = true
	r.said = nil
	if err := h.cancel(newMessageContext("/cancel", "")); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(r.said) != 0 {
		t.Fatalf("engine sends the cancel text itself, got %v", r.said)
	}
}

func TestHandleTextForwardsToRelay(t *testing.T) {
	r := &fakeRelay{}
	h := New(r, &fakeFlows{}, nil, Texts{})

	if err := h.HandleText(newMessageContext("hello", "")); err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if len(r.messages) != 1 || r.messages[0].Text != "hello" || r.messages[0].Profile.FirstName != "Ann" {
		t.Fatalf("messages = %+v", r.messages)
	}
}

func TestCallbackAnswersWithToast(t *testing.T) {
	r := &fakeRelay{toast: "expired"}
	h := New(r, &fakeFlows{}, nil, Texts{})
	data, _, err := callbacks.Encode(callbacks.Token{Action: callbacks.ActionFlowResponse, StepID: 3, Value: "yes"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	c := &fakeContext{
		cb: &tele.Callback{
			Data:    data,
			Sender:  &tele.User{ID: 501},
			Message: &tele.Message{ID: 33, Chat: &tele.Chat{ID: 501}},
		},
		store: map[string]any{},
	}
	if err := h.callback(c); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if len(r.callbacks) != 1 || r.callbacks[0].Data != data || r.callbacks[0].MessageID != 33 {
		t.Fatalf("callbacks = %+v", r.callbacks)
	}
	if len(c.responses) != 1 || c.responses[0] == nil || c.responses[0].Text != "expired" {
		t.Fatalf("responses = %+v", c.responses)
	}
}

func TestRegisterWiresCommandsAndCallbacks(t *testing.T) {
	reg := tg.NewRegistry()
	h := New(&fakeRelay{}, &fakeFlows{}, nil, Texts{})
	h.Register(reg)

	for _, name := range []string{"/start", "/cancel", "/help", "/reload"} {
		if _, _, ok := reg.LookupCommand(name); !ok {
			t.Fatalf("command %s not registered", name)
		}
	}
	if _, _, ok := reg.LookupCommand("/stop"); !ok {
		t.Fatalf("alias /stop not resolved")
	}
	if got := len(reg.ListCallbacks()); got != 3 {
		t.Fatalf("callbacks = %d", got)
	}
	for _, c := range reg.ListCommands(true) {
		if c.Text == "reload" {
			t.Fatalf("admin command must be hidden from the menu")
		}
	}
}
