package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/feedback-flow/internal/module/collection/adapter/analysis"
	"github.com/jinford/feedback-flow/internal/module/collection/adapter/llm"
	"github.com/jinford/feedback-flow/internal/module/collection/adapter/pg"
	"github.com/jinford/feedback-flow/internal/module/collection/application"
	"github.com/jinford/feedback-flow/internal/module/collection/domain"
	"github.com/jinford/feedback-flow/internal/platform/config"
	"github.com/jinford/feedback-flow/internal/platform/database"
)

// Container はアプリケーションの依存関係を保持する
type Container struct {
	Repository     domain.Repository
	AnalysisClient domain.AnalysisClient
	Notifier       domain.ChangeNotifier // データベースなしで構築した場合は nil

	Events      *application.EventBus
	Tracker     *application.Tracker
	Submissions *application.SubmissionService
	Dashboards  *application.DashboardService
	Summaries   *application.SummaryService

	logger   *slog.Logger
	database *database.DB
}

type containerOptions struct {
	logger         *slog.Logger
	repository     domain.Repository
	analysisClient domain.AnalysisClient
	summarizer     domain.Summarizer
	locker         domain.Locker
	notifier       domain.ChangeNotifier
	autoTrack      bool
	skipMigration  bool
}

// ContainerOption は Container 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerRepository はリポジトリを差し替える
func WithContainerRepository(repo domain.Repository) ContainerOption {
	return func(opts *containerOptions) {
		opts.repository = repo
	}
}

// WithContainerAnalysisClient は解析サービスクライアントを差し替える
func WithContainerAnalysisClient(client domain.AnalysisClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.analysisClient = client
	}
}

// WithContainerSummarizer は要約器を差し替える
func WithContainerSummarizer(summarizer domain.Summarizer) ContainerOption {
	return func(opts *containerOptions) {
		opts.summarizer = summarizer
	}
}

// WithContainerLocker は追跡ループのロックを差し替える
func WithContainerLocker(locker domain.Locker) ContainerOption {
	return func(opts *containerOptions) {
		opts.locker = locker
	}
}

// WithContainerNotifier は変更通知を差し替える
func WithContainerNotifier(notifier domain.ChangeNotifier) ContainerOption {
	return func(opts *containerOptions) {
		opts.notifier = notifier
	}
}

// WithAutoTrack は投入成功後に追跡ループを自動で開始する
func WithAutoTrack() ContainerOption {
	return func(opts *containerOptions) {
		opts.autoTrack = true
	}
}

// WithoutMigration は起動時のスキーマ適用を行わない
func WithoutMigration() ContainerOption {
	return func(opts *containerOptions) {
		opts.skipMigration = true
	}
}

// New は設定からコンテナを生成する
func New(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	var options containerOptions
	for _, opt := range opts {
		opt(&options)
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	if !options.skipMigration {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("スキーマ適用に失敗しました: %w", err)
		}
	}

	c, err := NewWithDB(cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewWithDB は既存の DB を受け取りコンテナを生成する
// db が nil の場合はリポジトリの注入が必要
func NewWithDB(cfg *config.Config, db *database.DB, opts ...ContainerOption) (*Container, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	// Repository / Locker / Notifier (PostgreSQL)
	repo := options.repository
	locker := options.locker
	notifier := options.notifier
	if db != nil {
		if repo == nil {
			repo = pg.NewRepository(db.Pool)
		}
		if locker == nil {
			locker = pg.NewLocker(db.Pool, pg.WithLockerLogger(logger), pg.WithLeaseTTL(cfg.Tracker.LeaseTTL))
		}
		if notifier == nil {
			notifier = pg.NewNotifier(db.Pool, pg.WithNotifierLogger(logger))
		}
	}
	if repo == nil {
		return nil, fmt.Errorf("リポジトリが設定されていません")
	}

	// AnalysisClient (HTTP)
	client := options.analysisClient
	if client == nil {
		httpClient, err := analysis.NewClient(
			cfg.Analysis.BaseURL,
			analysis.WithTimeout(cfg.Analysis.Timeout),
			analysis.WithClientLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("解析サービスクライアント初期化に失敗しました: %w", err)
		}
		client = httpClient
	}

	// Summarizer (OpenAI)。APIキーがなければ無効
	summarizer := options.summarizer
	if summarizer == nil && cfg.OpenAI.APIKey != "" {
		openaiSummarizer, err := llm.NewSummarizer(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.LLMModel,
			llm.WithMaxPromptTokens(cfg.OpenAI.MaxPromptTokens),
			llm.WithSummarizerLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("OpenAI要約クライアント初期化に失敗しました: %w", err)
		}
		summarizer = openaiSummarizer
	}

	submitter, err := application.NewSubmitter(cfg.Analysis.SubmissionMode, client)
	if err != nil {
		return nil, err
	}

	events := application.NewEventBus(cfg.EventBufferSize)

	trackerOpts := []application.TrackerOption{
		application.WithTrackerLogger(logger),
		application.WithTrackerObserver(events),
	}
	if locker != nil {
		trackerOpts = append(trackerOpts, application.WithTrackerLocker(locker))
	}
	tracker := application.NewTracker(repo, client, application.TrackerConfig{
		PollInterval: cfg.Tracker.PollInterval,
		Timeout:      cfg.Tracker.Timeout,
		MaxAttempts:  cfg.Tracker.MaxAttempts,
	}, trackerOpts...)

	submissionOpts := []application.SubmissionServiceOption{
		application.WithSubmissionLogger(logger),
		application.WithSubmissionObserver(events),
	}
	if options.autoTrack {
		submissionOpts = append(submissionOpts, application.WithAutoTrack(tracker))
	}
	submissions := application.NewSubmissionService(repo, submitter, submissionOpts...)

	dashboards := application.NewDashboardService(repo, client, logger)
	summaries := application.NewSummaryService(repo, dashboards, summarizer, logger)

	return &Container{
		Repository:     repo,
		AnalysisClient: client,
		Notifier:       notifier,
		Events:         events,
		Tracker:        tracker,
		Submissions:    submissions,
		Dashboards:     dashboards,
		Summaries:      summaries,
		logger:         logger,
		database:       db,
	}, nil
}

// Close は追跡ループを停止し、内部リソースを解放する
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.Tracker != nil {
		c.Tracker.Shutdown()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す
func (c *Container) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す
func (c *Container) Database() *database.DB {
	if c == nil {
		return nil
	}
	return c.database
}
