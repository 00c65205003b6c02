package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// SummaryService は完了したジョブのレポートから自然言語の要約を生成します
type SummaryService struct {
	dashboards *DashboardService
	repo       domain.SourceRepository
	summarizer domain.Summarizer // オプショナル
	logger     *slog.Logger
}

// NewSummaryService は新しいSummaryServiceを作成します
// summarizer が nil の場合、Summarize は ErrSummarizerDisabled を返します
func NewSummaryService(repo domain.SourceRepository, dashboards *DashboardService, summarizer domain.Summarizer, logger *slog.Logger) *SummaryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryService{
		dashboards: dashboards,
		repo:       repo,
		summarizer: summarizer,
		logger:     logger,
	}
}

// Enabled は要約機能が使えるかを返します
func (s *SummaryService) Enabled() bool {
	return s.summarizer != nil
}

// Summarize はデータソースのダッシュボード内容を要約します
func (s *SummaryService) Summarize(ctx context.Context, sourceID uuid.UUID) (string, error) {
	if s.summarizer == nil {
		return "", domain.ErrSummarizerDisabled
	}

	srcOpt, err := s.repo.GetDataSource(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("failed to get data source: %w", err)
	}
	src, ok := srcOpt.Get()
	if !ok {
		return "", domain.ErrSourceNotFound
	}
	if src.Status != domain.StatusCompleted {
		return "", &domain.ValidationError{Field: "status", Reason: "summary requires a completed data source, got " + string(src.Status)}
	}

	dashboard, err := s.dashboards.Load(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if !dashboard.Ready() {
		return "", fmt.Errorf("no report is available for data source %s", sourceID)
	}

	s.logger.Info("Generating summary", "sourceID", sourceID, "kpis", len(dashboard.KPIs))

	summary, err := s.summarizer.Summarize(ctx, domain.SummaryInput{
		SourceName: src.Name,
		SourceType: src.Type,
		KPIs:       dashboard.KPIs,
		Dashboard:  dashboard.HTML,
	})
	if err != nil {
		s.logger.Error("Failed to summarize report", "sourceID", sourceID, "error", err)
		return "", fmt.Errorf("failed to summarize report: %w", err)
	}

	return summary, nil
}
