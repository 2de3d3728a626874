package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/survey"
)

// QA is one question with the answer the client gave.
type QA struct {
	Question string
	Answer   string
}

// SummaryInput is the finished survey handed to a Summarizer.
type SummaryInput struct {
	ClientName string
	FlowName   string
	Answers    []QA
}

// Summarizer condenses a finished survey into a short note for operators.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}

const summaryPrompt = "You summarise customer support questionnaires for operators. " +
	"Reply with two or three sentences in the language of the answers. Do not invent facts."

// OpenAISummarizer asks a chat completion model for the summary.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer returns nil when apiKey is empty so callers can pass the result straight to Deps.
func NewOpenAISummarizer(apiKey, baseURL, model string) Summarizer {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISummarizer{client: openai.NewClientWithConfig(cfg), model: model}
}

// Summarize implements Summarizer.
func (s *OpenAISummarizer) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: in.Transcript()},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Transcript renders the input as plain text.
func (in SummaryInput) Transcript() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Survey: %s\n", in.FlowName)
	if in.ClientName != "" {
		fmt.Fprintf(&b, "Client: %s\n", in.ClientName)
	}
	for _, qa := range in.Answers {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", qa.Question, qa.Answer)
	}
	return b.String()
}

func summaryInput(client *domain.Client, st *survey.State) SummaryInput {
	in := SummaryInput{ClientName: client.DisplayName(), FlowName: st.Flow.Name}
	for i := range st.Flow.Steps {
		step := &st.Flow.Steps[i]
		if answer, ok := st.Answers[step.AnswerKey()]; ok {
			in.Answers = append(in.Answers, QA{Question: step.Question, Answer: answer})
		}
	}
	return in
}

// summarize stores a best-effort summary of a finished survey as a system note.
func (e *Engine) summarize(ctx context.Context, client *domain.Client, st *survey.State) {
	if e.summarizer == nil || e.transcript == nil || len(st.Answers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.SummaryTimeout)
	defer cancel()

	text, err := e.summarizer.Summarize(ctx, summaryInput(client, st))
	if err != nil {
		logger.Warn(ctx, component, "flow.summary.failed",
			slog.Int64("client_id", client.ID),
			slog.Int64("flow_id", st.FlowID),
			slog.String("err", err.Error()),
		)
		return
	}
	if text == "" {
		return
	}
	if _, err := e.transcript.RecordNote(ctx, client, text, domain.FlowTags{FlowID: st.FlowID}); err != nil {
		logger.Warn(ctx, component, "flow.summary.store_failed", slog.String("err", err.Error()))
	}
}
