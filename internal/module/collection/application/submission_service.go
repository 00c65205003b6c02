package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// TrackingStarter は投入後の追跡開始と、削除時の追跡停止を担います
type TrackingStarter interface {
	Start(ctx context.Context, id uuid.UUID) error
	Cancel(id uuid.UUID) bool
}

var _ TrackingStarter = (*Tracker)(nil)

type submissionServiceOptions struct {
	logger   *slog.Logger
	observer domain.Observer
	starter  TrackingStarter
	clock    func() time.Time
}

// SubmissionServiceOption は SubmissionService のオプション設定
type SubmissionServiceOption func(*submissionServiceOptions)

// WithSubmissionLogger はロガーを設定する
func WithSubmissionLogger(logger *slog.Logger) SubmissionServiceOption {
	return func(o *submissionServiceOptions) {
		o.logger = logger
	}
}

// WithSubmissionObserver はイベントの受け口を設定する
func WithSubmissionObserver(observer domain.Observer) SubmissionServiceOption {
	return func(o *submissionServiceOptions) {
		o.observer = observer
	}
}

// WithAutoTrack は投入成功後に追跡を自動開始する
func WithAutoTrack(starter TrackingStarter) SubmissionServiceOption {
	return func(o *submissionServiceOptions) {
		o.starter = starter
	}
}

// WithSubmissionClock は現在時刻の取得関数を差し替える
func WithSubmissionClock(clock func() time.Time) SubmissionServiceOption {
	return func(o *submissionServiceOptions) {
		o.clock = clock
	}
}

// SubmissionService はジョブ投入とレコード管理のユースケースを提供します
type SubmissionService struct {
	repo      domain.Repository
	submitter Submitter
	observer  domain.Observer
	starter   TrackingStarter
	logger    *slog.Logger
	now       func() time.Time
}

// NewSubmissionService は新しいSubmissionServiceを作成します
func NewSubmissionService(repo domain.Repository, submitter Submitter, opts ...SubmissionServiceOption) *SubmissionService {
	options := submissionServiceOptions{
		logger:   slog.Default(),
		observer: domain.NopObserver{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &SubmissionService{
		repo:      repo,
		submitter: submitter,
		observer:  options.observer,
		starter:   options.starter,
		logger:    options.logger,
		now:       options.clock,
	}
}

// Submit は入力を検証してレコードを作成し、リモートへ1回だけ投入します
// 投入に失敗した場合もレコードは error 状態で残り、SubmissionError と一緒に返します
func (s *SubmissionService) Submit(ctx context.Context, params domain.SubmitParams) (*domain.DataSource, error) {
	if err := domain.Validate(params); err != nil {
		return nil, err
	}

	sourceType, _ := domain.ParseSourceType(string(params.Type))
	metadata := domain.NewMetadata(params.Metadata)

	if params.ProjectID != nil {
		projectOpt, err := s.repo.GetProject(ctx, *params.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to get project: %w", err)
		}
		if projectOpt.IsAbsent() {
			return nil, domain.ErrProjectNotFound
		}
		metadata.ProjectID = params.ProjectID.String()
	}

	src, err := s.repo.CreateDataSource(ctx, domain.CreateSourceParams{
		ProjectID: params.ProjectID,
		Name:      strings.TrimSpace(params.Name),
		URL:       strings.TrimSpace(params.URL),
		Type:      sourceType,
		Status:    domain.StatusPending,
		Metadata:  metadata,
	})
	if err != nil {
		s.logger.Error("Failed to create data source", "name", params.Name, "error", err)
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}

	s.logger.Info("Submitting job", "sourceID", src.ID, "type", src.Type, "mode", s.submitter.Name())

	result, submitErr := s.submitter.Submit(ctx, *src)
	now := s.now()

	if submitErr != nil {
		failed := *src
		failed.Status = domain.StatusError
		failed.Metadata = src.Metadata.WithError(submitErr.Error(), now)
		failed.LastUpdated = now

		stored := s.store(ctx, failed)
		s.logger.Error("Failed to submit job", "sourceID", src.ID, "error", submitErr)
		s.observer.Publish(domain.Event{
			SourceID: src.ID,
			Type:     domain.EventTypeFailed,
			Status:   domain.StatusError,
			Message:  submitErr.Error(),
		})
		return stored, &domain.SubmissionError{SourceID: src.ID, Err: submitErr}
	}

	accepted := *src
	accepted.Status = domain.StatusCollecting
	accepted.Metadata = src.Metadata.WithSubmission(*result, now)
	accepted.LastUpdated = now

	stored := s.store(ctx, accepted)
	s.observer.Publish(domain.Event{
		SourceID:     stored.ID,
		Type:         domain.EventTypeSubmitted,
		Status:       stored.Status,
		TaskID:       stored.Metadata.TaskID,
		DashboardURL: stored.Metadata.DashboardURL,
	})

	if s.starter != nil {
		if err := s.starter.Start(ctx, stored.ID); err != nil {
			s.logger.Warn("Failed to start tracking", "sourceID", stored.ID, "error", err)
		}
	}

	return stored, nil
}

// store は投入結果を書き込みます
// 書き込みに失敗しても投入自体は済んでいるため、メモリ上の値を返します
func (s *SubmissionService) store(ctx context.Context, src domain.DataSource) *domain.DataSource {
	updated, err := s.repo.UpdateDataSource(ctx, domain.UpdateParamsFrom(src))
	if err != nil || updated == nil {
		s.logger.Error("Failed to update data source", "sourceID", src.ID, "error", err)
		return &src
	}
	return updated
}

// Get はデータソースを取得します
func (s *SubmissionService) Get(ctx context.Context, id uuid.UUID) (*domain.DataSource, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("source ID is required")
	}

	srcOpt, err := s.repo.GetDataSource(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get data source", "sourceID", id, "error", err)
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}

	src, ok := srcOpt.Get()
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	return src, nil
}

// List は条件に合うデータソース一覧を取得します
func (s *SubmissionService) List(ctx context.Context, filter domain.SourceFilter) ([]*domain.DataSource, error) {
	sources, err := s.repo.ListDataSources(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list data sources", "error", err)
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	return sources, nil
}

// Delete は追跡ループを止めてからレコードを削除します
func (s *SubmissionService) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("source ID is required")
	}

	if s.starter != nil && s.starter.Cancel(id) {
		s.logger.Info("Stopped tracking for deleted data source", "sourceID", id)
	}

	if err := s.repo.DeleteDataSource(ctx, id); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete data source: %w", err)
	}

	s.logger.Info("Deleted data source", "sourceID", id)
	return nil
}

// Advance はジョブの状態を手動で進めます
// 後戻りと終端からの遷移は ErrInvalidTransition になり、終端へ進めた場合は追跡ループを止めます
func (s *SubmissionService) Advance(ctx context.Context, id uuid.UUID, action string) (*domain.DataSource, error) {
	advance, to, err := domain.ParseAdvanceAction(action)
	if err != nil {
		return nil, err
	}

	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(src.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, src.Status, to)
	}
	if src.Status == to {
		return src, nil
	}

	if to.IsTerminal() && s.starter != nil && s.starter.Cancel(id) {
		s.logger.Info("Stopped tracking for manually completed data source", "sourceID", id)
	}

	now := s.now()
	next := *src
	next.Status = to
	next.LastUpdated = now
	next.Metadata = src.Metadata.Clone()
	if to == domain.StatusCompleted && next.Metadata.CompletedAt == nil {
		next.Metadata.CompletedAt = &now
	}

	updated, err := s.repo.UpdateDataSource(ctx, domain.UpdateParamsFrom(next))
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to advance data source: %w", err)
	}

	s.logger.Info("Advanced data source", "sourceID", id, "action", advance, "from", src.Status, "to", updated.Status)
	eventType := domain.EventTypeStatus
	if updated.Status == domain.StatusCompleted {
		eventType = domain.EventTypeCompleted
	}
	s.observer.Publish(domain.Event{
		SourceID:     updated.ID,
		Type:         eventType,
		Status:       updated.Status,
		TaskID:       updated.Metadata.TaskID,
		DashboardURL: updated.Metadata.DashboardURL,
	})
	return updated, nil
}

// CreateProject はプロジェクトを作成します
func (s *SubmissionService) CreateProject(ctx context.Context, name string, description *string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "project name is required"}
	}
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if trimmed == "" {
			description = nil
		} else {
			description = &trimmed
		}
	}

	project, err := s.repo.CreateProject(ctx, name, description)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Info("Created project", "projectID", project.ID, "name", project.Name)
	return project, nil
}

// ListProjects はプロジェクト一覧を取得します
func (s *SubmissionService) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// GetProject はプロジェクトと所属データソースを取得します
func (s *SubmissionService) GetProject(ctx context.Context, id uuid.UUID) (*domain.ProjectWithSources, error) {
	projectOpt, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	project, ok := projectOpt.Get()
	if !ok {
		return nil, domain.ErrProjectNotFound
	}

	sources, err := s.repo.ListDataSources(ctx, domain.SourceFilter{
		ProjectID: &project.ID,
		OrderBy:   domain.OrderByCreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list project sources: %w", err)
	}

	return &domain.ProjectWithSources{Project: *project, Sources: sources}, nil
}
