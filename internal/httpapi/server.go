// Package httpapi is the operator dashboard REST API.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/Nemu-x/botlab/core/logger"
	"github.com/Nemu-x/botlab/internal/domain"
	"github.com/Nemu-x/botlab/internal/invite"
	"github.com/Nemu-x/botlab/internal/survey"
)

const component = "http"

// Store is the persistence the API reads and edits.
type Store interface {
	ListFlows(ctx context.Context) ([]domain.Flow, error)
	FlowWithSteps(ctx context.Context, id int64) (*domain.Flow, error)
	CreateFlow(ctx context.Context, f *domain.Flow) error
	UpdateFlow(ctx context.Context, f *domain.Flow) error
	DeleteFlow(ctx context.Context, id int64) error

	ListSteps(ctx context.Context, flowID int64) ([]domain.Step, error)
	GetStep(ctx context.Context, flowID, stepID int64) (*domain.Step, error)
	CreateStep(ctx context.Context, st *domain.Step) error
	UpdateStep(ctx context.Context, st *domain.Step) error
	DeleteStep(ctx context.Context, flowID, stepID int64) error
	ReorderSteps(ctx context.Context, flowID int64, ids []int64) error

	ListClients(ctx context.Context, limit, offset int) ([]domain.Client, error)
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	SetBlocked(ctx context.Context, clientID int64, blocked bool) error
	ListMessages(ctx context.Context, clientID int64, beforeID int64, limit int) ([]domain.Message, error)
	ListFlowResponses(ctx context.Context, clientID, flowID int64) ([]domain.FlowResponse, error)

	ListCommands(ctx context.Context) ([]domain.Command, error)
	GetCommand(ctx context.Context, id int64) (*domain.Command, error)
	CreateCommand(ctx context.Context, c *domain.Command) error
	UpdateCommand(ctx context.Context, c *domain.Command) error
	DeleteCommand(ctx context.Context, id int64) error
}

// Relay delivers operator actions to clients.
type Relay interface {
	SendOperatorMessage(ctx context.Context, clientID int64, text string) (*domain.Message, error)
	SetDialogOpen(ctx context.Context, clientID int64, open bool) (*domain.Client, error)
	ReloadCommands(ctx context.Context) error
}

// Flows inspects and cancels surveys in progress.
type Flows interface {
	Active(ctx context.Context, clientID int64) (*survey.State, error)
	Cancel(ctx context.Context, client *domain.Client) (bool, error)
}

// Inviter sends flow invitations.
type Inviter interface {
	SendInvitation(ctx context.Context, target invite.Target, flowID int64, message string) (*domain.Message, error)
}

// Publisher pushes client updates to operator sessions.
type Publisher interface {
	Publish(kind string, payload any)
}

// Deps are the collaborators of the API.
type Deps struct {
	Store   Store
	Relay   Relay
	Flows   Flows
	Invites Inviter
	Events  Publisher
	// Feed serves the operator websocket; it authenticates on its own.
	Feed http.Handler
	// Health adds runtime counters to /healthz.
	Health func() map[string]any
}

// Options configure the HTTP server.
type Options struct {
	Listen string
	APIKey string
}

type api struct {
	Deps
}

// NewRouter builds the API routes.
func NewRouter(deps Deps, opts Options) http.Handler {
	a := &api{Deps: deps}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLog)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Get("/healthz", a.health)
	router.Route("/api", func(root chi.Router) {
		if deps.Feed != nil {
			root.Handle("/ws", deps.Feed)
		}
		root.Group(func(authed chi.Router) {
			authed.Use(APIKey(opts.APIKey).Middleware)
			authed.Route("/flows", a.flowRoutes)
			authed.Route("/clients", a.clientRoutes)
			authed.Route("/commands", a.commandRoutes)
		})
	})

	return router
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{}
	if a.Health != nil {
		status = a.Health()
	}
	status["status"] = "ok"
	ok(w, r, http.StatusOK, status)
}

func (a *api) flowRoutes(r chi.Router) {
	r.Get("/", a.listFlows)
	r.Post("/", a.createFlow)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.getFlow)
		r.Put("/", a.updateFlow)
		r.Delete("/", a.deleteFlow)
		r.Post("/invite", a.inviteToFlow)
		r.Route("/steps", func(r chi.Router) {
			r.Get("/", a.listSteps)
			r.Post("/", a.createStep)
			r.Put("/order", a.reorderSteps)
			r.Get("/{stepId}", a.getStep)
			r.Put("/{stepId}", a.updateStep)
			r.Delete("/{stepId}", a.deleteStep)
		})
	})
}

func (a *api) clientRoutes(r chi.Router) {
	r.Get("/", a.listClients)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", a.getClient)
		r.Get("/messages", a.listMessages)
		r.Post("/messages", a.sendMessage)
		r.Put("/dialog", a.setDialog)
		r.Put("/blocked", a.setBlocked)
		r.Get("/survey", a.getSurvey)
		r.Delete("/survey", a.cancelSurvey)
		r.Get("/responses", a.listResponses)
	})
}

func (a *api) commandRoutes(r chi.Router) {
	r.Get("/", a.listCommands)
	r.Post("/", a.createCommand)
	r.Post("/reload", a.reloadCommands)
	r.Get("/{id}", a.getCommand)
	r.Put("/{id}", a.updateCommand)
	r.Delete("/{id}", a.deleteCommand)
}

// Server runs the API until shut down.
type Server struct {
	httpServer *http.Server
	listen     string
}

// New builds a server listening on opts.Listen.
func New(deps Deps, opts Options) *Server {
	return &Server{
		listen: opts.Listen,
		httpServer: &http.Server{
			Handler:           NewRouter(deps, opts),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(errorHandler(), slog.LevelError),
		},
	}
}

// Start binds the listener and serves in the background. Bind errors are returned.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	logger.Info(ctx, component, "http.start", slog.String("listen", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), component, "http.serve_failed", logger.Err(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for active ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	logger.Info(ctx, component, "http.stop", slog.Bool("clean", err == nil))
	return err
}

func errorHandler() slog.Handler {
	if logger.L != nil {
		return logger.L.Handler()
	}
	return slog.Default().Handler()
}
