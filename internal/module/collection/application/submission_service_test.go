package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/feedback-flow/internal/module/collection/application"
	"github.com/jinford/feedback-flow/internal/module/collection/domain"
	testutil "github.com/jinford/feedback-flow/internal/module/collection/testing"
)

var submitNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSubmissionService(repo domain.Repository, client domain.AnalysisClient, opts ...application.SubmissionServiceOption) *application.SubmissionService {
	opts = append([]application.SubmissionServiceOption{
		application.WithSubmissionLogger(discardLogger()),
		application.WithSubmissionClock(func() time.Time { return submitNow }),
	}, opts...)
	return application.NewSubmissionService(repo, application.NewPipelineSubmitter(client), opts...)
}

func TestSubmissionService_Submit_Success(t *testing.T) {
	// Setup
	ctx := context.Background()
	repo := testutil.NewMemoryRepository()
	project := testutil.TestProject("Launch")
	repo.PutProject(project)

	var captured domain.PipelineRequest
	calls := 0
	client := &testutil.MockAnalysisClient{
		RunPipelineFunc: func(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
			calls++
			captured = req
			return &domain.PipelineResponse{TaskID: "t1", Status: "pending"}, nil
		},
	}

	var started uuid.UUID
	starter := &testutil.MockTrackingStarter{
		StartFunc: func(ctx context.Context, id uuid.UUID) error {
			started = id
			return nil
		},
	}
	observer := &testutil.RecordingObserver{}
	service := newSubmissionService(repo, client, application.WithAutoTrack(starter), application.WithSubmissionObserver(observer))

	// Execute
	src, err := service.Submit(ctx, domain.SubmitParams{
		Name:      "  Launch Feedback ",
		URL:       "https://www.reddit.com/r/acme",
		Type:      domain.SourceTypeSocial,
		ProjectID: &project.ID,
		Metadata:  map[string]any{"hashtags": []any{"#launch"}},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Launch Feedback", src.Name)
	assert.Equal(t, domain.StatusCollecting, src.Status)
	assert.Equal(t, "t1", src.Metadata.TaskID)
	assert.Equal(t, project.ID.String(), src.Metadata.ProjectID)
	require.NotNil(t, src.Metadata.PipelineStarted)
	assert.Equal(t, submitNow, *src.Metadata.PipelineStarted)
	assert.Equal(t, src.ID, started)

	assert.Equal(t, src.ID.String(), captured.SourceID)
	assert.Equal(t, "https://www.reddit.com/r/acme", captured.Config["social"]["url"])
	assert.Equal(t, []any{"#launch"}, captured.Config["social"]["hashtags"])

	stored, ok := repo.Source(src.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCollecting, stored.Status)
	assert.Equal(t, []domain.EventType{domain.EventTypeSubmitted}, observer.Types())
}

func TestSubmissionService_Submit_ValidationErrorNeverReachesRemote(t *testing.T) {
	// Setup
	repo := testutil.NewMemoryRepository()
	client := &testutil.MockAnalysisClient{
		RunPipelineFunc: func(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
			t.Fatal("remote must not be called")
			return nil, nil
		},
	}
	service := newSubmissionService(repo, client)

	// Execute
	src, err := service.Submit(context.Background(), domain.SubmitParams{
		Name: "Social",
		URL:  "https://example.com/profile",
		Type: domain.SourceTypeSocial,
	})

	// Assert
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "url", vErr.Field)
	assert.Nil(t, src)

	all, _ := repo.ListDataSources(context.Background(), domain.SourceFilter{})
	assert.Empty(t, all, "no record is created")
}

func TestSubmissionService_Submit_RemoteRejection(t *testing.T) {
	// Setup
	repo := testutil.NewMemoryRepository()
	calls := 0
	client := &testutil.MockAnalysisClient{
		RunPipelineFunc: func(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
			calls++
			return nil, errors.New("503 service unavailable")
		},
	}
	starter := &testutil.MockTrackingStarter{
		StartFunc: func(ctx context.Context, id uuid.UUID) error {
			t.Fatal("tracking must not start after a failed submission")
			return nil
		},
	}
	service := newSubmissionService(repo, client, application.WithAutoTrack(starter))

	// Execute
	src, err := service.Submit(context.Background(), domain.SubmitParams{
		Name: "Forum",
		URL:  "https://forum.acme.com/t/1",
		Type: domain.SourceTypeForum,
	})

	// Assert
	var subErr *domain.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, 1, calls, "submission is never retried")
	require.NotNil(t, src)
	assert.Equal(t, subErr.SourceID, src.ID)

	stored, ok := repo.Source(src.ID)
	require.True(t, ok, "record is kept")
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.Contains(t, stored.Metadata.ErrorMessage, "503 service unavailable")
	require.NotNil(t, stored.Metadata.ErrorTime)
	assert.Equal(t, submitNow, *stored.Metadata.ErrorTime)
}

func TestSubmissionService_Submit_UnknownProject(t *testing.T) {
	service := newSubmissionService(testutil.NewMemoryRepository(), &testutil.MockAnalysisClient{})
	projectID := uuid.New()

	_, err := service.Submit(context.Background(), domain.SubmitParams{
		Name:      "Forum",
		URL:       "https://forum.acme.com",
		Type:      domain.SourceTypeForum,
		ProjectID: &projectID,
	})

	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

func TestSubmissionService_Delete_CancelsTracking(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusProcessing)
	repo := testutil.NewMemoryRepository(src)
	var cancelled uuid.UUID
	starter := &testutil.MockTrackingStarter{
		CancelFunc: func(id uuid.UUID) bool {
			cancelled = id
			return true
		},
	}
	service := newSubmissionService(repo, &testutil.MockAnalysisClient{}, application.WithAutoTrack(starter))

	// Execute
	err := service.Delete(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, src.ID, cancelled)
	_, ok := repo.Source(src.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, service.Delete(context.Background(), src.ID), domain.ErrSourceNotFound)
}

func TestSubmissionService_Get(t *testing.T) {
	src := testutil.TestDataSource("Forum", domain.SourceTypeForum, domain.StatusPending)
	service := newSubmissionService(testutil.NewMemoryRepository(src), &testutil.MockAnalysisClient{})

	got, err := service.Get(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.ID)

	_, err = service.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)

	_, err = service.Get(context.Background(), uuid.Nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source ID is required")
}

func TestSubmissionService_Projects(t *testing.T) {
	// Setup
	ctx := context.Background()
	repo := testutil.NewMemoryRepository()
	service := newSubmissionService(repo, &testutil.MockAnalysisClient{})

	// Execute
	blank := "   "
	project, err := service.CreateProject(ctx, " Launch ", &blank)
	require.NoError(t, err)

	src := testutil.TestDataSource("Forum", domain.SourceTypeForum, domain.StatusCompleted)
	src.ProjectID = &project.ID
	repo.Put(src)
	repo.Put(testutil.TestDataSource("Other", domain.SourceTypeForum, domain.StatusCompleted))

	withSources, err := service.GetProject(ctx, project.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Launch", project.Name)
	assert.Nil(t, project.Description)
	require.Len(t, withSources.Sources, 1)
	assert.Equal(t, src.ID, withSources.Sources[0].ID)

	_, err = service.CreateProject(ctx, "", nil)
	var vErr *domain.ValidationError
	assert.True(t, errors.As(err, &vErr))

	_, err = service.GetProject(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

func TestSubmissionService_Advance(t *testing.T) {
	ctx := context.Background()

	t.Run("moves forward and publishes", func(t *testing.T) {
		// Setup
		src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
		repo := testutil.NewMemoryRepository(src)
		observer := &testutil.RecordingObserver{}
		service := newSubmissionService(repo, &testutil.MockAnalysisClient{}, application.WithSubmissionObserver(observer))

		// Execute
		advanced, err := service.Advance(ctx, src.ID, "analyze")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, domain.StatusAnalyzing, advanced.Status)
		assert.Equal(t, submitNow, advanced.LastUpdated)
		assert.Equal(t, []domain.EventType{domain.EventTypeStatus}, observer.Types())
	})

	t.Run("complete stops tracking", func(t *testing.T) {
		// Setup
		src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusProcessing)
		repo := testutil.NewMemoryRepository(src)
		var cancelled uuid.UUID
		starter := &testutil.MockTrackingStarter{
			CancelFunc: func(id uuid.UUID) bool {
				cancelled = id
				return true
			},
		}
		service := newSubmissionService(repo, &testutil.MockAnalysisClient{}, application.WithAutoTrack(starter))

		// Execute
		advanced, err := service.Advance(ctx, src.ID, "complete")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, advanced.Status)
		require.NotNil(t, advanced.Metadata.CompletedAt)
		assert.Equal(t, src.ID, cancelled)
	})

	t.Run("rejects invalid transitions", func(t *testing.T) {
		analyzing := testutil.TestTrackedDataSource("Analyzing", "t1", domain.StatusAnalyzing)
		done := testutil.TestTrackedDataSource("Done", "t2", domain.StatusCompleted)
		repo := testutil.NewMemoryRepository(analyzing, done)
		service := newSubmissionService(repo, &testutil.MockAnalysisClient{})

		_, err := service.Advance(ctx, analyzing.ID, "collect")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = service.Advance(ctx, done.ID, "process")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = service.Advance(ctx, analyzing.ID, "publish")
		var validationErr *domain.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "action", validationErr.Field)

		_, err = service.Advance(ctx, uuid.New(), "process")
		assert.ErrorIs(t, err, domain.ErrSourceNotFound)

		assert.Zero(t, repo.Updates(analyzing.ID))
		assert.Zero(t, repo.Updates(done.ID))
	})
}
