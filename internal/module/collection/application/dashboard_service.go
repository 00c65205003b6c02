package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

const (
	placeholderInProgress = "Dashboard will be available once processing completes"
	placeholderNoOutput   = "Processing completed, but no dashboard was produced for this source"
)

// DashboardService は完了したジョブのダッシュボード取得を提供します
type DashboardService struct {
	repo   domain.SourceRepository
	client domain.AnalysisClient
	logger *slog.Logger
}

// NewDashboardService は新しいDashboardServiceを作成します
func NewDashboardService(repo domain.SourceRepository, client domain.AnalysisClient, logger *slog.Logger) *DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardService{
		repo:   repo,
		client: client,
		logger: logger,
	}
}

// Load はデータソースのダッシュボードを取得します
// 未完了や出力なしの場合はエラーではなくプレースホルダーを返します
func (s *DashboardService) Load(ctx context.Context, sourceID uuid.UUID) (*domain.Dashboard, error) {
	srcOpt, err := s.repo.GetDataSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}
	src, ok := srcOpt.Get()
	if !ok {
		return nil, domain.ErrSourceNotFound
	}

	return s.load(ctx, src)
}

// LoadLatest はプロジェクトで最後に完了したデータソースのダッシュボードを取得します
func (s *DashboardService) LoadLatest(ctx context.Context, projectID uuid.UUID) (*domain.Dashboard, error) {
	src, err := s.LatestCompleted(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, src)
}

// LatestCompleted はプロジェクトで最後に更新された完了済みデータソースを返します
func (s *DashboardService) LatestCompleted(ctx context.Context, projectID uuid.UUID) (*domain.DataSource, error) {
	sources, err := s.repo.ListDataSources(ctx, domain.SourceFilter{
		ProjectID: &projectID,
		Statuses:  []domain.Status{domain.StatusCompleted},
		OrderBy:   domain.OrderByLastUpdated,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list completed sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, domain.ErrSourceNotFound
	}
	return sources[0], nil
}

func (s *DashboardService) load(ctx context.Context, src *domain.DataSource) (*domain.Dashboard, error) {
	dashboard := &domain.Dashboard{
		SourceID:     src.ID,
		Status:       src.Status,
		TaskID:       src.Metadata.TaskID,
		DashboardURL: src.Metadata.DashboardURL,
	}

	if src.Status != domain.StatusCompleted {
		dashboard.Placeholder = fmt.Sprintf("%s (status: %s)", placeholderInProgress, src.Status)
		return dashboard, nil
	}

	if dashboard.DashboardURL != "" {
		content, err := s.client.FetchDashboardURL(ctx, dashboard.DashboardURL)
		if err == nil {
			fill(dashboard, content)
			return dashboard, nil
		}
		if dashboard.TaskID == "" {
			return nil, fmt.Errorf("failed to fetch dashboard: %w", err)
		}
		s.logger.Warn("Failed to fetch dashboard URL, falling back to task", "sourceID", src.ID, "error", err)
	}

	if dashboard.TaskID == "" {
		dashboard.Placeholder = placeholderNoOutput
		return dashboard, nil
	}

	// 完了後にダッシュボードURLだけが後から付与されることがある
	if status, err := s.client.GetTaskStatus(ctx, dashboard.TaskID); err == nil && status != nil && status.DashboardURL != "" && status.DashboardURL != dashboard.DashboardURL {
		if content, err := s.client.FetchDashboardURL(ctx, status.DashboardURL); err == nil {
			dashboard.DashboardURL = status.DashboardURL
			fill(dashboard, content)
			return dashboard, nil
		}
	}

	content, err := s.client.GetDashboardHTML(ctx, dashboard.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard html: %w", err)
	}
	fill(dashboard, content)

	if len(dashboard.KPIs) == 0 {
		report, err := s.client.GetReport(ctx, dashboard.TaskID)
		if err != nil {
			s.logger.Warn("Failed to get report", "sourceID", src.ID, "taskID", dashboard.TaskID, "error", err)
		} else if report != nil {
			dashboard.KPIs = report.KPIs
		}
	}

	if !dashboard.Ready() {
		dashboard.Placeholder = placeholderNoOutput
	}
	return dashboard, nil
}

func fill(dashboard *domain.Dashboard, content *domain.DashboardContent) {
	if content == nil {
		return
	}
	dashboard.HTML = content.HTML
	if len(content.KPIs) > 0 {
		dashboard.KPIs = content.KPIs
	}
}
