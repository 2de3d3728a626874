package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/relay"
	"github.com/Nemu-x/botlab/internal/survey"
)

const (
	defaultPage = 50
	maxPage     = 200
)

func (a *api) listClients(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPage, maxPage)
	if limit == 0 {
		limit = defaultPage
	}
	clients, err := a.Store.ListClients(r.Context(), limit, queryInt(r, "offset", 0, 0))
	if err != nil {
		failErr(w, r, "clients.list", err)
		return
	}
	ok(w, r, http.StatusOK, clients)
}

func (a *api) getClient(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	c, err := a.Store.GetClient(r.Context(), id)
	if err != nil {
		failErr(w, r, "clients.get", err)
		return
	}
	ok(w, r, http.StatusOK, c)
}

func (a *api) listMessages(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var before int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			fail(w, r, http.StatusBadRequest, "invalid before")
			return
		}
		before = n
	}
	limit := queryInt(r, "limit", defaultPage, maxPage)
	if limit == 0 {
		limit = defaultPage
	}
	msgs, err := a.Store.ListMessages(r.Context(), id, before, limit)
	if err != nil {
		failErr(w, r, "messages.list", err)
		return
	}
	ok(w, r, http.StatusOK, msgs)
}

func (a *api) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := logger.WithClient(r.Context(), id)
	msg, err := a.Relay.SendOperatorMessage(ctx, id, req.Text)
	if err != nil {
		failErr(w, r.WithContext(ctx), "messages.send", err)
		return
	}
	ok(w, r, http.StatusCreated, msg)
}

func (a *api) setDialog(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req dialogRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := a.Relay.SetDialogOpen(r.Context(), id, *req.Open)
	if err != nil {
		failErr(w, r, "clients.dialog", err)
		return
	}
	ok(w, r, http.StatusOK, c)
}

func (a *api) setBlocked(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req blockedRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := a.Store.SetBlocked(ctx, id, *req.Blocked); err != nil {
		failErr(w, r, "clients.blocked", err)
		return
	}
	c, err := a.Store.GetClient(ctx, id)
	if err != nil {
		failErr(w, r, "clients.blocked", err)
		return
	}
	logger.Info(ctx, component, "clients.blocked", slog.Int64("client_id", id), slog.Bool("blocked", c.IsBlocked))
	if a.Events != nil {
		a.Events.Publish(relay.EventClient, c)
	}
	ok(w, r, http.StatusOK, c)
}

func (a *api) getSurvey(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	st, err := a.Flows.Active(r.Context(), id)
	if errors.Is(err, survey.ErrNoState) {
		fail(w, r, http.StatusNotFound, "no active survey")
		return
	}
	if err != nil {
		failErr(w, r, "survey.get", err)
		return
	}
	ok(w, r, http.StatusOK, st)
}

func (a *api) cancelSurvey(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	ctx := logger.WithClient(r.Context(), id)
	c, err := a.Store.GetClient(ctx, id)
	if err != nil {
		failErr(w, r, "survey.cancel", err)
		return
	}
	cancelled, err := a.Flows.Cancel(ctx, c)
	if err != nil {
		failErr(w, r, "survey.cancel", err)
		return
	}
	ok(w, r, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (a *api) listResponses(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	flowID, err := strconv.ParseInt(r.URL.Query().Get("flowId"), 10, 64)
	if err != nil || flowID <= 0 {
		fail(w, r, http.StatusBadRequest, "flowId query parameter is required")
		return
	}
	rows, err := a.Store.ListFlowResponses(r.Context(), id, flowID)
	if err != nil {
		failErr(w, r, "responses.list", err)
		return
	}
	ok(w, r, http.StatusOK, rows)
}
