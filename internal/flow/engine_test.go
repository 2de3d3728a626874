package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/survey"
)

func currentStepID(t *testing.T, h *harness) int64 {
	t.Helper()
	st, err := h.engine.Active(context.Background(), h.client.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	step, ok := st.CurrentStep()
	if !ok {
		t.Fatalf("no current step")
	}
	return step.ID
}

func TestSequentialFlowVisitsStepsInOrder(t *testing.T) {
	ctx := context.Background()
	// Stored out of order on purpose: order_index decides.
	h := newHarness(Options{}, flowOf(textStep(30, 3), textStep(10, 1), textStep(40, 4), textStep(20, 2)))

	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	visited := []int64{currentStepID(t, h)}
	for i := 0; i < 3; i++ {
		out, err := h.engine.Advance(ctx, h.client, Answer{Text: "a"})
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if out.Status != StatusAdvanced || out.Reason != ReasonSequential {
			t.Fatalf("advance %d: unexpected outcome %+v", i, out)
		}
		visited = append(visited, out.StepID)
	}
	want := []int64{10, 20, 30, 40}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}

	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "last"})
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if out.Status != StatusCompleted || out.Reason != ReasonExhausted {
		t.Fatalf("expected exhausted completion, got %+v", out)
	}
	if h.clients.get(h.client.ID) != nil {
		t.Fatalf("current flow must be cleared")
	}
	if len(h.responses.rows) != 4 {
		t.Fatalf("expected 4 flow responses, got %d", len(h.responses.rows))
	}
}

func TestExplicitPointerSkipsOrder(t *testing.T) {
	ctx := context.Background()
	s1 := textStep(1, 1)
	s1.NextStepID = ptr(4)
	h := newHarness(Options{}, flowOf(s1, textStep(2, 2), textStep(3, 3), textStep(4, 4)))

	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "anything", StepID: 1})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.StepID != 4 || out.Reason != ReasonPointer {
		t.Fatalf("expected pointer to step 4, got %+v", out)
	}
}

func TestEqualsConditionBranches(t *testing.T) {
	build := func() *domain.Flow {
		s3 := textStep(3, 3)
		s3.Conditions = domain.Conditions{{PrevStepID: 1, Answers: []domain.AnswerMatch{{Operator: domain.OpEquals, Match: "yes"}}}}
		return flowOf(textStep(1, 1), textStep(2, 2), s3)
	}
	ctx := context.Background()

	cases := []struct {
		answer string
		want   int64
		reason Reason
	}{
		{"yes", 3, ReasonCondition},
		{"Yes", 2, ReasonSequential},
		{"no", 2, ReasonSequential},
	}
	for _, tc := range cases {
		h := newHarness(Options{}, build())
		if err := h.engine.Start(ctx, h.client, 1); err != nil {
			t.Fatalf("start: %v", err)
		}
		out, err := h.engine.Advance(ctx, h.client, Answer{Text: tc.answer, StepID: 1})
		if err != nil {
			t.Fatalf("advance %q: %v", tc.answer, err)
		}
		if out.StepID != tc.want || out.Reason != tc.reason {
			t.Fatalf("answer %q: got step %d (%s), want %d (%s)", tc.answer, out.StepID, out.Reason, tc.want, tc.reason)
		}
	}
}

func TestConditionBeatsPointer(t *testing.T) {
	ctx := context.Background()
	s1 := textStep(1, 1)
	s1.NextStepID = ptr(2)
	s3 := textStep(3, 3)
	s3.Conditions = domain.Conditions{{PrevStepID: 1, Answers: []domain.AnswerMatch{{Operator: domain.OpStartsWith, Match: "go"}}}}
	h := newHarness(Options{}, flowOf(s1, textStep(2, 2), s3))

	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "go ahead"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.StepID != 3 {
		t.Fatalf("condition must win over pointer, got %+v", out)
	}
}

func TestUrgentContainsSkipsStep(t *testing.T) {
	ctx := context.Background()
	s3 := textStep(3, 3)
	s3.Conditions = domain.Conditions{{PrevStepID: 1, Answers: []domain.AnswerMatch{{Operator: domain.OpContains, Match: "urgent"}}}}
	h := newHarness(Options{}, flowOf(textStep(1, 1), textStep(2, 2), s3))

	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "this is urgent", StepID: 1})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.StepID != 3 {
		t.Fatalf("expected step 3, got %+v", out)
	}
	if got := h.transcript.last().tags.StepID; got != 3 {
		t.Fatalf("outbound message must be tagged with step 3, got %d", got)
	}
}

func TestMismatchedStepIsRecordedAndResolvedFromClaim(t *testing.T) {
	ctx := context.Background()
	s2 := textStep(2, 2)
	s2.NextStepID = ptr(4)
	h := newHarness(Options{}, flowOf(textStep(1, 1), s2, textStep(3, 3), textStep(4, 4)))

	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Client is on step 1 but the answer claims step 2.
	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "late tap", StepID: 2})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.StepID != 4 {
		t.Fatalf("resolution must follow the claimed step, got %+v", out)
	}
	st, err := h.engine.Active(ctx, h.client.ID)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if st.Answers["step_2"] != "late tap" {
		t.Fatalf("answer not recorded against claimed step: %v", st.Answers)
	}
	if len(h.transcript.inbound) != 1 || *h.transcript.inbound[0].FlowStepID != 2 {
		t.Fatalf("inbound message must be tagged with the claimed step: %+v", h.transcript.inbound)
	}
}

func TestFinalStepCompletesAndClearsState(t *testing.T) {
	ctx := context.Background()
	s2 := textStep(2, 2)
	s2.IsFinal = true
	h := newHarness(Options{}, flowOf(textStep(1, 1), s2))

	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := h.clients.get(h.client.ID); got == nil || *got != 1 {
		t.Fatalf("current flow must be set on start")
	}
	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "hello"})
	if err != nil || out.StepID != 2 {
		t.Fatalf("expected step 2, got %+v err=%v", out, err)
	}
	out, err = h.engine.Advance(ctx, h.client, Answer{Text: "done"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.Status != StatusCompleted || out.Reason != ReasonFinal {
		t.Fatalf("expected final completion, got %+v", out)
	}
	if h.clients.get(h.client.ID) != nil || h.client.CurrentFlowID != nil {
		t.Fatalf("current flow must be null after completion")
	}
	if _, err := h.engine.Active(ctx, h.client.ID); !errors.Is(err, survey.ErrNoState) {
		t.Fatalf("survey state must be removed, got %v", err)
	}
	out, err = h.engine.Advance(ctx, h.client, Answer{Text: "again"})
	if err != nil || out.Status != StatusNotActive {
		t.Fatalf("advance after completion must be a no-op, got %+v err=%v", out, err)
	}
	if last := h.transcript.last().reply.Text; last != DefaultOptions().CompletionText {
		t.Fatalf("expected completion text, got %q", last)
	}
}

func TestStartEmptyFlowApologises(t *testing.T) {
	h := newHarness(Options{}, flowOf())
	err := h.engine.Start(context.Background(), h.client, 1)
	if !errors.Is(err, ErrEmptyFlow) {
		t.Fatalf("expected ErrEmptyFlow, got %v", err)
	}
	if h.clients.get(h.client.ID) != nil {
		t.Fatalf("empty flow must not set current flow")
	}
	if h.transcript.last().reply.Text != DefaultOptions().ApologyText {
		t.Fatalf("expected apology, got %+v", h.transcript.last())
	}
}

func TestStartUnknownAndInactiveFlows(t *testing.T) {
	ctx := context.Background()
	inactive := flowOf(textStep(1, 1))
	inactive.IsActive = false
	h := newHarness(Options{}, inactive)

	if err := h.engine.Start(ctx, h.client, 99); !errors.Is(err, ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
	if err := h.engine.Start(ctx, h.client, 1); !errors.Is(err, ErrFlowInactive) {
		t.Fatalf("expected ErrFlowInactive, got %v", err)
	}
}

func TestDanglingPointerFallsBackOrFailsWhenStrict(t *testing.T) {
	ctx := context.Background()
	build := func() *domain.Flow {
		s1 := textStep(1, 1)
		s1.NextStepID = ptr(404)
		return flowOf(s1, textStep(2, 2))
	}

	lenient := newHarness(Options{}, build())
	if err := lenient.engine.Start(ctx, lenient.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := lenient.engine.Advance(ctx, lenient.client, Answer{Text: "x"})
	if err != nil || out.StepID != 2 || out.Reason != ReasonSequential {
		t.Fatalf("lenient mode must fall back to sequential, got %+v err=%v", out, err)
	}

	strict := newHarness(Options{StrictReferences: true}, build())
	if err := strict.engine.Start(ctx, strict.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := strict.engine.Advance(ctx, strict.client, Answer{Text: "x"}); !errors.Is(err, ErrDanglingStep) {
		t.Fatalf("strict mode must fail with ErrDanglingStep, got %v", err)
	}
	if id := currentStepID(t, strict); id != 1 {
		t.Fatalf("strict failure must not move the survey, at step %d", id)
	}
}

func TestInvalidRegexIsNonMatch(t *testing.T) {
	ctx := context.Background()
	s2 := textStep(2, 2)
	s2.Conditions = domain.Conditions{{PrevStepID: 1, Answers: []domain.AnswerMatch{{Operator: domain.OpRegex, Match: "(["}}}}
	s3 := textStep(3, 3)
	s3.Conditions = domain.Conditions{{PrevStepID: 1, Answers: []domain.AnswerMatch{{Operator: domain.OpRegex, Match: `^\d+$`}}}}
	h := newHarness(Options{}, flowOf(textStep(1, 1), s2, s3))

	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "42"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.StepID != 3 {
		t.Fatalf("expected evaluation to continue past the bad pattern, got %+v", out)
	}
}

func TestSendFailureKeepsTransition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Options{}, flowOf(textStep(1, 1), textStep(2, 2), textStep(3, 3)))
	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.transcript.failSend = true
	out, err := h.engine.Advance(ctx, h.client, Answer{Text: "x"})
	if err != nil {
		t.Fatalf("send failures must not surface: %v", err)
	}
	if out.StepID != 2 || currentStepID(t, h) != 2 {
		t.Fatalf("transition must be kept, got %+v", out)
	}
}

func TestCancelAndReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Options{}, flowOf(textStep(1, 1), textStep(2, 2)))

	if ok, err := h.engine.Cancel(ctx, h.client); err != nil || ok {
		t.Fatalf("cancel without survey: ok=%v err=%v", ok, err)
	}
	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if ok, err := h.engine.Cancel(ctx, h.client); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	if h.clients.get(h.client.ID) != nil {
		t.Fatalf("cancel must clear current flow")
	}

	// Simulate a restart: pointer persisted, state gone.
	h.client.CurrentFlowID = ptr(1)
	reset, err := h.engine.Reconcile(ctx, h.client)
	if err != nil || !reset {
		t.Fatalf("reconcile: reset=%v err=%v", reset, err)
	}
	if h.client.CurrentFlowID != nil {
		t.Fatalf("reconcile must clear the client pointer")
	}
}

func TestSummaryFailureDoesNotBlockCompletion(t *testing.T) {
	ctx := context.Background()
	s1 := textStep(1, 1)
	s1.Question = "What happened?"
	s1.IsFinal = true

	failing := newHarness(Options{}, flowOf(s1))
	failing.engine.summarizer = &stubSummarizer{err: errors.New("quota exceeded")}
	if err := failing.engine.Start(ctx, failing.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := failing.engine.Advance(ctx, failing.client, Answer{Text: "printer on fire"})
	if err != nil || out.Status != StatusCompleted {
		t.Fatalf("expected completion, got %+v err=%v", out, err)
	}
	if len(failing.transcript.notes) != 0 {
		t.Fatalf("no note expected on failure")
	}

	stub := &stubSummarizer{text: "Printer is on fire."}
	ok := newHarness(Options{}, flowOf(s1))
	ok.engine.summarizer = stub
	if err := ok.engine.Start(ctx, ok.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ok.engine.Advance(ctx, ok.client, Answer{Text: "printer on fire"}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(ok.transcript.notes) != 1 || ok.transcript.notes[0] != "Printer is on fire." {
		t.Fatalf("expected summary note, got %v", ok.transcript.notes)
	}
	if len(stub.got.Answers) != 1 || !strings.Contains(stub.got.Transcript(), "printer on fire") {
		t.Fatalf("summary input missing answer: %+v", stub.got)
	}
}

func TestConcurrentAnswersAreSerialised(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Options{}, flowOf(textStep(1, 1), textStep(2, 2), textStep(3, 3)))
	if err := h.engine.Start(ctx, h.client, 1); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := *h.client
			if _, err := h.engine.Advance(ctx, &client, Answer{Text: "tap", StepID: 1}); err != nil {
				t.Errorf("advance: %v", err)
			}
		}()
	}
	wg.Wait()

	// Both taps claim step 1, so the survey lands on step 2 exactly once.
	if id := currentStepID(t, h); id != 2 {
		t.Fatalf("double tap must resolve to step 2, at %d", id)
	}
	if len(h.responses.rows) != 2 {
		t.Fatalf("both answers must be recorded, got %d", len(h.responses.rows))
	}
}
