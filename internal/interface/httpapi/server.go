package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/feedback-flow/internal/module/collection/application"
	"github.com/jinford/feedback-flow/internal/module/collection/domain"
	"github.com/jinford/feedback-flow/internal/platform/config"
	"github.com/jinford/feedback-flow/internal/platform/container"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultListenRetry     = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

type serverOptions struct {
	logger          *slog.Logger
	shutdownTimeout time.Duration
	listenRetry     time.Duration
}

// ServerOption は Server のオプション設定
type ServerOption func(*serverOptions)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithShutdownTimeout はグレースフルシャットダウンの待ち時間を設定する
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.shutdownTimeout = d
	}
}

// WithListenRetry は変更通知の購読が切れた後の再接続間隔を設定する
func WithListenRetry(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.listenRetry = d
	}
}

// Server はREST APIとイベントストリームを提供するHTTPサーバーです
type Server struct {
	submissions *application.SubmissionService
	dashboards  *application.DashboardService
	summaries   *application.SummaryService
	tracker     *application.Tracker
	events      *application.EventBus
	notifier    domain.ChangeNotifier

	port            int
	allowedOrigins  []string
	shutdownTimeout time.Duration
	listenRetry     time.Duration
	logger          *slog.Logger
	upgrader        websocket.Upgrader
}

// New はコンテナのサービスからサーバーを作成します
func New(c *container.Container, cfg config.ServerConfig, opts ...ServerOption) *Server {
	options := serverOptions{
		logger:          c.Logger(),
		shutdownTimeout: defaultShutdownTimeout,
		listenRetry:     defaultListenRetry,
	}
	for _, opt := range opts {
		opt(&options)
	}

	s := &Server{
		submissions:     c.Submissions,
		dashboards:      c.Dashboards,
		summaries:       c.Summaries,
		tracker:         c.Tracker,
		events:          c.Events,
		notifier:        c.Notifier,
		port:            cfg.Port,
		allowedOrigins:  cfg.CORSAllowedOrigins,
		shutdownTimeout: options.shutdownTimeout,
		listenRetry:     options.listenRetry,
		logger:          options.logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// Handler はルーティング済みのハンドラーを返します
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	// Projects
	api.HandleFunc("/projects", s.handleListProjects).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects", s.handleCreateProject).Methods("POST", "OPTIONS")
	api.HandleFunc("/projects/{id}", s.handleGetProject).Methods("GET", "OPTIONS")
	api.HandleFunc("/projects/{id}/dashboard", s.handleProjectDashboard).Methods("GET", "OPTIONS")

	// Sources
	api.HandleFunc("/sources", s.handleListSources).Methods("GET", "OPTIONS")
	api.HandleFunc("/sources", s.handleCreateSource).Methods("POST", "OPTIONS")
	api.HandleFunc("/sources/{id}", s.handleGetSource).Methods("GET", "OPTIONS")
	api.HandleFunc("/sources/{id}", s.handleDeleteSource).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/sources/{id}/track", s.handleTrackSource).Methods("POST", "OPTIONS")
	api.HandleFunc("/sources/{id}/advance", s.handleAdvanceSource).Methods("POST", "OPTIONS")
	api.HandleFunc("/sources/{id}/dashboard", s.handleSourceDashboard).Methods("GET", "OPTIONS")
	api.HandleFunc("/sources/{id}/summary", s.handleSourceSummary).Methods("POST", "OPTIONS")

	// Events
	api.HandleFunc("/events", s.handleEvents).Methods("GET", "OPTIONS")
	api.HandleFunc("/events/ws", s.handleEventStream).Methods("GET")

	return router
}

// Run はHTTPサーバーと変更通知の購読を起動し、ctx が終了するまでブロックします
// 起動時に未完了ジョブの追跡を再開します
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		s.logger.Info("Shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
		return nil
	})

	if s.notifier != nil {
		g.Go(func() error {
			return s.listenChanges(gctx)
		})
	} else {
		s.logger.Warn("Change notifier is not configured, external changes will not be streamed")
	}

	g.Go(func() error {
		if _, err := s.tracker.Resume(gctx); err != nil {
			s.logger.Warn("Failed to resume tracking", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// listenChanges はレコードストアの変更通知を購読し続けます
// 接続が切れた場合は listenRetry 後に再購読します
func (s *Server) listenChanges(ctx context.Context) error {
	for {
		err := s.notifier.Listen(ctx, s.handleChange)
		if ctx.Err() != nil {
			return nil
		}

		s.logger.Warn("Change listener stopped, retrying", "error", err, "retryIn", s.listenRetry)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.listenRetry):
		}
	}
}

// handleChange は変更通知をイベントとして配信します
// 削除されたジョブの追跡ループはここで停止します
func (s *Server) handleChange(change domain.ChangeEvent) {
	if change.Op == domain.ChangeOpDelete && s.tracker.Cancel(change.SourceID) {
		s.logger.Info("Cancelled tracking for deleted data source", "sourceID", change.SourceID)
	}

	s.events.Publish(domain.Event{
		SourceID: change.SourceID,
		Type:     domain.EventTypeChange,
		Status:   change.Status,
		Op:       change.Op,
	})
}
