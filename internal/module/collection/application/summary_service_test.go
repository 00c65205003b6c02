package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/feedback-flow/internal/module/collection/application"
	"github.com/jinford/feedback-flow/internal/module/collection/domain"
	testutil "github.com/jinford/feedback-flow/internal/module/collection/testing"
)

func TestSummaryService_Summarize(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Launch Feedback", "t1", domain.StatusCompleted)
	repo := testutil.NewMemoryRepository(src)
	client := &testutil.MockAnalysisClient{
		GetDashboardHTMLFunc: func(ctx context.Context, taskID string) (*domain.DashboardContent, error) {
			return &domain.DashboardContent{ContentType: "application/json", KPIs: []domain.KPI{{Name: "NPS", Value: 42}}}, nil
		},
	}
	summarizer := &testutil.MockSummarizer{
		SummarizeFunc: func(ctx context.Context, in domain.SummaryInput) (string, error) {
			assert.Equal(t, "Launch Feedback", in.SourceName)
			require.Len(t, in.KPIs, 1)
			return "Customers are broadly positive.", nil
		},
	}
	dashboards := application.NewDashboardService(repo, client, discardLogger())
	service := application.NewSummaryService(repo, dashboards, summarizer, discardLogger())

	// Execute
	summary, err := service.Summarize(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.True(t, service.Enabled())
	assert.Equal(t, "Customers are broadly positive.", summary)
}

func TestSummaryService_Summarize_Disabled(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	service := application.NewSummaryService(repo, application.NewDashboardService(repo, &testutil.MockAnalysisClient{}, nil), nil, nil)

	_, err := service.Summarize(context.Background(), testutil.TestDataSource("x", domain.SourceTypeForum, domain.StatusCompleted).ID)

	assert.ErrorIs(t, err, domain.ErrSummarizerDisabled)
	assert.False(t, service.Enabled())
}

func TestSummaryService_Summarize_RequiresCompletedSource(t *testing.T) {
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusProcessing)
	repo := testutil.NewMemoryRepository(src)
	service := application.NewSummaryService(repo, application.NewDashboardService(repo, &testutil.MockAnalysisClient{}, nil), &testutil.MockSummarizer{}, discardLogger())

	_, err := service.Summarize(context.Background(), src.ID)

	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "status", vErr.Field)
}
