package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/Nemu-x/botlab/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type flowRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	IsActive    *bool  `json:"isActive"`
	IsDefault   bool   `json:"isDefault"`
}

func (req flowRequest) apply(f *domain.Flow) {
	f.Name = strings.TrimSpace(req.Name)
	f.Description = req.Description
	f.IsDefault = req.IsDefault
	f.IsActive = req.IsActive == nil || *req.IsActive
}

type optionRequest struct {
	Text  string `json:"text" validate:"required,max=64"`
	Value string `json:"value" validate:"max=256"`
	Emoji string `json:"emoji" validate:"max=16"`
	Row   int    `json:"row" validate:"gte=0"`
	URL   string `json:"url" validate:"omitempty,url"`
}

type answerMatchRequest struct {
	Operator domain.Operator `json:"operator" validate:"required,oneof=equals contains startsWith endsWith regex"`
	Match    string          `json:"match" validate:"required"`
}

type conditionRequest struct {
	PrevStepID int64                `json:"prevStepId" validate:"required,gt=0"`
	Answers    []answerMatchRequest `json:"answers" validate:"required,min=1,dive"`
}

type stepRequest struct {
	OrderIndex   int                `json:"orderIndex" validate:"gte=0"`
	Question     string             `json:"question" validate:"required,max=4096"`
	ResponseType string             `json:"responseType" validate:"omitempty,oneof=text callback buttons url nextStep next_step keyboard final"`
	Options      []optionRequest    `json:"options" validate:"max=100,dive"`
	NextStepID   *int64             `json:"nextStepId" validate:"omitempty,gt=0"`
	IsFinal      bool               `json:"isFinal"`
	Conditions   []conditionRequest `json:"conditions" validate:"dive"`
	Config       domain.StepConfig  `json:"config"`
}

func (req stepRequest) apply(st *domain.Step) {
	st.OrderIndex = req.OrderIndex
	st.Question = req.Question
	st.ResponseType = req.ResponseType
	if st.ResponseType == "" {
		st.ResponseType = string(domain.KindText)
	}
	st.Options = make(domain.Options, 0, len(req.Options))
	for _, o := range req.Options {
		st.Options = append(st.Options, domain.Option{Text: o.Text, Value: o.Value, Emoji: o.Emoji, Row: o.Row, URL: o.URL})
	}
	st.NextStepID = req.NextStepID
	st.IsFinal = req.IsFinal
	st.Conditions = make(domain.Conditions, 0, len(req.Conditions))
	for _, c := range req.Conditions {
		cond := domain.Condition{PrevStepID: c.PrevStepID}
		for _, a := range c.Answers {
			cond.Answers = append(cond.Answers, domain.AnswerMatch{Operator: a.Operator, Match: a.Match})
		}
		st.Conditions = append(st.Conditions, cond)
	}
	st.Config = req.Config
}

// regexErrors reports condition patterns that do not compile.
func (req stepRequest) regexErrors() error {
	for i, c := range req.Conditions {
		for j, a := range c.Answers {
			if a.Operator != domain.OpRegex {
				continue
			}
			if _, err := regexp.Compile(a.Match); err != nil {
				return fmt.Errorf("conditions[%d].answers[%d]: invalid regex", i, j)
			}
		}
	}
	return nil
}

type reorderRequest struct {
	StepIDs []int64 `json:"stepIds" validate:"required,min=1,dive,gt=0"`
}

type inviteRequest struct {
	ClientID   int64  `json:"clientId" validate:"required_without=TelegramID,gte=0"`
	TelegramID int64  `json:"telegramId" validate:"required_without=ClientID,gte=0"`
	Message    string `json:"message" validate:"max=4096"`
}

type messageRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

type dialogRequest struct {
	Open *bool `json:"open" validate:"required"`
}

type blockedRequest struct {
	Blocked *bool `json:"blocked" validate:"required"`
}

type commandRequest struct {
	Trigger   string           `json:"trigger" validate:"required,max=256"`
	MatchType domain.MatchType `json:"matchType" validate:"omitempty,oneof=exact contains startsWith regex"`
	Response  string           `json:"response" validate:"required_without=FlowID,max=4096"`
	FlowID    *int64           `json:"flowId" validate:"omitempty,gt=0"`
	Priority  int              `json:"priority"`
	IsActive  *bool            `json:"isActive"`
}

func (req commandRequest) apply(c *domain.Command) error {
	c.Trigger = req.Trigger
	c.MatchType = req.MatchType
	if c.MatchType == "" {
		c.MatchType = domain.MatchExact
	}
	if c.MatchType == domain.MatchRegex {
		if _, err := regexp.Compile(c.Trigger); err != nil {
			return errors.New("trigger: invalid regex")
		}
	}
	c.Response = req.Response
	c.FlowID = req.FlowID
	c.Priority = req.Priority
	c.IsActive = req.IsActive == nil || *req.IsActive
	return nil
}

// decode reads and validates a JSON body, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		fail(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		fail(w, r, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag())
}

// pathID parses a positive int64 URL parameter, answering 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		fail(w, r, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter bounded by max.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
