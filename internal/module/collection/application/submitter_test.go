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

func TestNewSubmitter(t *testing.T) {
	client := &testutil.MockAnalysisClient{}

	s, err := application.NewSubmitter("", client)
	require.NoError(t, err)
	assert.Equal(t, application.SubmissionModePipeline, s.Name())

	s, err = application.NewSubmitter("chained", client)
	require.NoError(t, err)
	assert.Equal(t, application.SubmissionModeChained, s.Name())

	_, err = application.NewSubmitter("batch", client)
	assert.Error(t, err)
}

func TestPipelineSubmitter_RejectsMissingTaskID(t *testing.T) {
	client := &testutil.MockAnalysisClient{
		RunPipelineFunc: func(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
			return &domain.PipelineResponse{Status: "pending"}, nil
		},
	}

	_, err := application.NewPipelineSubmitter(client).Submit(context.Background(), *testutil.TestDataSource("Forum", domain.SourceTypeForum, domain.StatusPending))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task id")
}

func TestChainedSubmitter_Submit(t *testing.T) {
	// Setup
	src := testutil.TestDataSource("Survey", domain.SourceTypeSurvey, domain.StatusPending)
	src.Metadata = domain.NewMetadata(map[string]any{"files_dir": "/data/nps"})

	var calls []string
	client := &testutil.MockAnalysisClient{
		CollectFunc: func(ctx context.Context, req domain.CollectorRequest, withFiles bool) (*domain.PipelineResponse, error) {
			calls = append(calls, "collect")
			assert.True(t, withFiles)
			require.NotNil(t, req.Config.Survey)
			return &domain.PipelineResponse{TaskID: "c1", Status: "pending"}, nil
		},
		ProcessFunc: func(ctx context.Context, collectionTaskID string) (*domain.PipelineResponse, error) {
			calls = append(calls, "process:"+collectionTaskID)
			return &domain.PipelineResponse{TaskID: "p1"}, nil
		},
		AnalyzeFunc: func(ctx context.Context, processingTaskID string) (*domain.PipelineResponse, error) {
			calls = append(calls, "analyze:"+processingTaskID)
			return &domain.PipelineResponse{TaskID: "a1"}, nil
		},
		GenerateDashboardFunc: func(ctx context.Context, analysisTaskID string, includeAlerts, includeReport bool) (*domain.PipelineResponse, error) {
			calls = append(calls, "dashboard:"+analysisTaskID)
			assert.True(t, includeAlerts)
			assert.True(t, includeReport)
			return &domain.PipelineResponse{TaskID: "d1", Status: "pending", DashboardURL: "/dashboard/d1"}, nil
		},
	}

	// Execute
	result, err := application.NewChainedSubmitter(client).Submit(context.Background(), *src)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"collect", "process:c1", "analyze:p1", "dashboard:a1"}, calls)
	assert.Equal(t, "d1", result.TaskID)
	assert.Equal(t, "/dashboard/d1", result.DashboardURL)
	assert.Equal(t, map[domain.Stage]string{
		domain.StageCollection: "c1",
		domain.StageProcessing: "p1",
		domain.StageAnalysis:   "a1",
		domain.StageDashboard:  "d1",
	}, result.SubTaskIDs)
}

func TestChainedSubmitter_FailureStopsChain(t *testing.T) {
	client := &testutil.MockAnalysisClient{
		CollectFunc: func(ctx context.Context, req domain.CollectorRequest, withFiles bool) (*domain.PipelineResponse, error) {
			return &domain.PipelineResponse{TaskID: "c1"}, nil
		},
		ProcessFunc: func(ctx context.Context, collectionTaskID string) (*domain.PipelineResponse, error) {
			return nil, errors.New("processor offline")
		},
		AnalyzeFunc: func(ctx context.Context, processingTaskID string) (*domain.PipelineResponse, error) {
			t.Fatal("analyze must not be called")
			return nil, nil
		},
	}

	_, err := application.NewChainedSubmitter(client).Submit(context.Background(), *testutil.TestDataSource("Forum", domain.SourceTypeForum, domain.StatusPending))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "processing stage")
	assert.Contains(t, err.Error(), "processor offline")
}
