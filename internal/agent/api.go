// Package agent exposes a client over a local HTTP API and reports its
// readiness through the gRPC health protocol, so that non-Go processes can
// evaluate flags and track events through a sidecar.
package agent

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/heimdall-sdk/internal/flags"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// Client is the part of client.Client the API serves.
type Client interface {
	Context() value.Struct
	PutContextMap(values value.Struct)
	RemoveContext(key string)

	Track(name string, message value.Struct) error
	Flush(ctx context.Context) error

	EvaluateString(path, def string) (flags.Evaluation[string], error)
	EvaluateBool(path string, def bool) (flags.Evaluation[bool], error)
	EvaluateInt(path string, def int64) (flags.Evaluation[int64], error)
	EvaluateDouble(path string, def float64) (flags.Evaluation[float64], error)
	EvaluateStruct(path string, def value.Struct) (flags.Evaluation[value.Struct], error)
	EvaluateValue(path string, def value.Value) (flags.Evaluation[value.Value], error)
}

// API routes agent requests to a Client.
type API struct {
	Router *chi.Mux

	logger       *slog.Logger
	client       Client
	maxBodyBytes int64
}

// NewAPI builds the router. Bodies larger than maxBodyBytes are rejected.
func NewAPI(logger *slog.Logger, c Client, maxBodyBytes int64) *API {
	if c == nil {
		panic("agent: client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}

	a := &API{
		Router:       chi.NewRouter(),
		logger:       logger,
		client:       c,
		maxBodyBytes: maxBodyBytes,
	}
	a.configureRoutes()
	return a
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger(a.logger))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.RequestSize(a.maxBodyBytes))
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Route("/v1", func(r chi.Router) {
		r.Post("/events", a.handleTrack)

		r.Get("/context", a.handleGetContext)
		r.Put("/context", a.handlePutContext)
		r.Delete("/context/{key}", a.handleRemoveContext)

		r.Post("/flags:evaluate", a.handleEvaluate)
		r.Post("/flags:flush", a.handleFlush)
	})
}
