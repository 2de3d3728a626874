package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/invite"
)

func (a *api) listFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := a.Store.ListFlows(r.Context())
	if err != nil {
		failErr(w, r, "flows.list", err)
		return
	}
	ok(w, r, http.StatusOK, flows)
}

func (a *api) getFlow(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	f, err := a.Store.FlowWithSteps(r.Context(), id)
	if err != nil {
		failErr(w, r, "flows.get", err)
		return
	}
	ok(w, r, http.StatusOK, f)
}

func (a *api) createFlow(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if !decode(w, r, &req) {
		return
	}
	var f domain.Flow
	req.apply(&f)
	if err := a.Store.CreateFlow(r.Context(), &f); err != nil {
		failErr(w, r, "flows.create", err)
		return
	}
	logger.Info(r.Context(), component, "flows.created", slog.Int64("flow_id", f.ID))
	ok(w, r, http.StatusCreated, f)
}

func (a *api) updateFlow(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req flowRequest
	if !decode(w, r, &req) {
		return
	}
	f := domain.Flow{ID: id}
	req.apply(&f)
	if err := a.Store.UpdateFlow(r.Context(), &f); err != nil {
		failErr(w, r, "flows.update", err)
		return
	}
	ok(w, r, http.StatusOK, f)
}

func (a *api) deleteFlow(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	if err := a.Store.DeleteFlow(r.Context(), id); err != nil {
		failErr(w, r, "flows.delete", err)
		return
	}
	logger.Info(r.Context(), component, "flows.deleted", slog.Int64("flow_id", id))
	ok(w, r, http.StatusOK, nil)
}

func (a *api) inviteToFlow(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req inviteRequest
	if !decode(w, r, &req) {
		return
	}
	msg, err := a.Invites.SendInvitation(r.Context(),
		invite.Target{ClientID: req.ClientID, TelegramID: req.TelegramID}, id, req.Message)
	if err != nil {
		failErr(w, r, "flows.invite", err)
		return
	}
	ok(w, r, http.StatusCreated, msg)
}

func (a *api) listSteps(w http.ResponseWriter, r *http.Request) {
	flowID, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	steps, err := a.Store.ListSteps(r.Context(), flowID)
	if err != nil {
		failErr(w, r, "steps.list", err)
		return
	}
	ok(w, r, http.StatusOK, steps)
}

func (a *api) getStep(w http.ResponseWriter, r *http.Request) {
	flowID, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	stepID, valid := pathID(w, r, "stepId")
	if !valid {
		return
	}
	st, err := a.Store.GetStep(r.Context(), flowID, stepID)
	if err != nil {
		failErr(w, r, "steps.get", err)
		return
	}
	ok(w, r, http.StatusOK, st)
}

func (a *api) createStep(w http.ResponseWriter, r *http.Request) {
	flowID, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req stepRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.regexErrors(); err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st := domain.Step{FlowID: flowID}
	req.apply(&st)
	if err := a.Store.CreateStep(r.Context(), &st); err != nil {
		failErr(w, r, "steps.create", err)
		return
	}
	ok(w, r, http.StatusCreated, st)
}

func (a *api) updateStep(w http.ResponseWriter, r *http.Request) {
	flowID, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	stepID, valid := pathID(w, r, "stepId")
	if !valid {
		return
	}
	var req stepRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.regexErrors(); err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st := domain.Step{ID: stepID, FlowID: flowID}
	req.apply(&st)
	if err := a.Store.UpdateStep(r.Context(), &st); err != nil {
		failErr(w, r, "steps.update", err)
		return
	}
	ok(w, r, http.StatusOK, st)
}

func (a *api) deleteStep(w http.ResponseWriter, r *http.Request) {
	flowID, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	stepID, valid := pathID(w, r, "stepId")
	if !valid {
		return
	}
	if err := a.Store.DeleteStep(r.Context(), flowID, stepID); err != nil {
		failErr(w, r, "steps.delete", err)
		return
	}
	ok(w, r, http.StatusOK, nil)
}

func (a *api) reorderSteps(w http.ResponseWriter, r *http.Request) {
	flowID, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req reorderRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.Store.ReorderSteps(r.Context(), flowID, req.StepIDs); err != nil {
		failErr(w, r, "steps.reorder", err)
		return
	}
	steps, err := a.Store.ListSteps(r.Context(), flowID)
	if err != nil {
		failErr(w, r, "steps.list", err)
		return
	}
	ok(w, r, http.StatusOK, steps)
}
