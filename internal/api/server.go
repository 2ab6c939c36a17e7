package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/config"
	"github.com/snarg/interview-kb/internal/metrics"
	"github.com/snarg/interview-kb/internal/storage"
)

// ServerOptions wires the handlers' dependencies. Nil optional dependencies
// disable the routes that need them.
type ServerOptions struct {
	Config    *config.Config
	Retriever Retriever
	Synth     Synthesizer
	Reviews   ReviewUploader
	Reindexer Reindexer
	Resetter  SchemaResetter
	Queue     RecordingQueue
	Store     storage.Store
	Index     IndexHealth
	MQTT      BrokerStatus
	Live      LiveDataSource
	Watcher   func() *WatcherStatusData
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the HTTP routes.
func NewRouter(opts ServerOptions) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics: no auth
	health := NewHealthHandler(opts.Index, opts.MQTT, opts.Queue, opts.Watcher, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", metrics.Handler())

	// Authenticated routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(opts.Config.AuthToken))

		if opts.Retriever != nil && opts.Synth != nil {
			r.Group(func(r chi.Router) {
				r.Use(Deadline(opts.Config.QueryTimeout))
				NewAskHandler(opts.Retriever, opts.Synth).Routes(r)
			})
		}
		r.Group(func(r chi.Router) {
			r.Use(MaxBody(opts.Config.MaxUploadBytes))
			if opts.Reviews != nil {
				NewReviewedHandler(opts.Reviews, opts.Log).Routes(r)
			}
			NewRecordingsHandler(opts.Queue, opts.Store, opts.Log).Routes(r)
		})
		if opts.Resetter != nil {
			NewAdminHandler(opts.Resetter, opts.Reindexer).Routes(r)
		}
		NewEventsHandler(opts.Live).Routes(r)
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
