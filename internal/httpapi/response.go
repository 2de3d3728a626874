package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/invite"
	"github.com/Nemu-x/botlab/internal/relay"
	"github.com/Nemu-x/botlab/internal/storage"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: true, Data: data})
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: false, Error: msg})
}

// failErr maps service and storage errors to a status code. Unknown errors are
// logged and hidden behind a generic message.
func failErr(w http.ResponseWriter, r *http.Request, event string, err error) {
	status, msg := classify(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, component, event, slog.Int("http_code", status), logger.Err(err))
	} else {
		logger.Info(ctx, component, event, slog.Int("http_code", status), slog.String("reason", msg))
	}
	fail(w, r, status, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, invite.ErrClientNotFound),
		errors.Is(err, invite.ErrFlowNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, relay.ErrClientBlocked):
		return http.StatusConflict, "client is blocked"
	case errors.Is(err, storage.ErrInvalidReference):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, invite.ErrEmptyFlow):
		return http.StatusUnprocessableEntity, "flow has no steps"
	case errors.Is(err, invite.ErrNoTarget):
		return http.StatusBadRequest, "clientId or telegramId is required"
	}
	return http.StatusInternalServerError, "internal error"
}

