package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/domain"
)

func (a *api) listCommands(w http.ResponseWriter, r *http.Request) {
	cmds, err := a.Store.ListCommands(r.Context())
	if err != nil {
		failErr(w, r, "commands.list", err)
		return
	}
	ok(w, r, http.StatusOK, cmds)
}

func (a *api) getCommand(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	c, err := a.Store.GetCommand(r.Context(), id)
	if err != nil {
		failErr(w, r, "commands.get", err)
		return
	}
	ok(w, r, http.StatusOK, c)
}

func (a *api) createCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	var c domain.Command
	if err := req.apply(&c); err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.Store.CreateCommand(r.Context(), &c); err != nil {
		failErr(w, r, "commands.create", err)
		return
	}
	a.reload(r)
	ok(w, r, http.StatusCreated, c)
}

func (a *api) updateCommand(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	c := domain.Command{ID: id}
	if err := req.apply(&c); err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.Store.UpdateCommand(r.Context(), &c); err != nil {
		failErr(w, r, "commands.update", err)
		return
	}
	a.reload(r)
	ok(w, r, http.StatusOK, c)
}

func (a *api) deleteCommand(w http.ResponseWriter, r *http.Request) {
	id, valid := pathID(w, r, "id")
	if !valid {
		return
	}
	if err := a.Store.DeleteCommand(r.Context(), id); err != nil {
		failErr(w, r, "commands.delete", err)
		return
	}
	a.reload(r)
	ok(w, r, http.StatusOK, nil)
}

func (a *api) reloadCommands(w http.ResponseWriter, r *http.Request) {
	if err := a.Relay.ReloadCommands(r.Context()); err != nil {
		failErr(w, r, "commands.reload", err)
		return
	}
	ok(w, r, http.StatusOK, nil)
}

// reload refreshes the relay snapshot after a write. The write already
// succeeded, so a failure is only logged.
func (a *api) reload(r *http.Request) {
	if err := a.Relay.ReloadCommands(r.Context()); err != nil {
		logger.Warn(r.Context(), component, "commands.reload_failed", logger.Err(err))
		return
	}
	logger.Debug(r.Context(), component, "commands.reloaded", slog.String("path", r.URL.Path))
}
