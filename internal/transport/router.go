package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/internal/definition"
	"github.com/pitabwire/fieldform/model"
)

// BootstrapControl starts bootstrap runs and reports on the last one.
type BootstrapControl interface {
	Trigger()
	Status() (last model.ProcessingResult, at time.Time, running bool)
}

// FormCatalog lists installed form definitions.
type FormCatalog interface {
	List() ([]definition.LoadedForm, error)
	Find(id string) (definition.LoadedForm, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
// Nil handlers and services leave their routes unregistered.
type Dependencies struct {
	Logger         *zap.Logger
	HandlerTimeout time.Duration

	Bootstrap BootstrapControl
	Forms     FormCatalog

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler

	// Middleware runs after request IDs are assigned and sees the matched
	// route once the request has been served.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the middleware pipeline and all
// operations routes.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(deps.Middleware...)

	if deps.HealthHandler != nil {
		r.Method(http.MethodGet, "/healthz", deps.HealthHandler)
	}
	if deps.ReadyHandler != nil {
		r.Method(http.MethodGet, "/readyz", deps.ReadyHandler)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(deps.HandlerTimeout))
		r.Use(RequestLogging(logger))

		if deps.Bootstrap != nil {
			r.Get("/bootstrap", handleBootstrapStatus(deps.Bootstrap))
			r.Post("/bootstrap", handleBootstrapTrigger(deps.Bootstrap))
		}
		if deps.Forms != nil {
			r.Get("/forms", handleListForms(deps.Forms))
			r.Get("/forms/{formId}", handleGetForm(deps.Forms))
		}
	})

	return r
}
