package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/feedback-flow/internal/module/collection/application"
	"github.com/jinford/feedback-flow/internal/module/collection/domain"
	testutil "github.com/jinford/feedback-flow/internal/module/collection/testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() application.TrackerConfig {
	return application.TrackerConfig{
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
	}
}

func step(status string, stage domain.Stage) testutil.StatusStep {
	return testutil.StatusStep{Status: testutil.TestTaskStatus("t1", status, stage)}
}

func newTracker(repo domain.SourceRepository, client domain.AnalysisClient, cfg application.TrackerConfig, opts ...application.TrackerOption) *application.Tracker {
	opts = append([]application.TrackerOption{application.WithTrackerLogger(discardLogger())}, opts...)
	return application.NewTracker(repo, client, cfg, opts...)
}

func TestTracker_Track_EndToEnd(t *testing.T) {
	// Setup
	ctx := context.Background()
	src := testutil.TestTrackedDataSource("Launch Feedback", "t1", domain.StatusCollecting)
	src.Metadata.Extra = map[string]any{"hashtags": []any{"#launch"}}
	repo := testutil.NewMemoryRepository(src)

	processing := testutil.TestTaskStatus("t1", "processing", domain.StageProcessing)
	processing.SubTaskIDs = map[domain.Stage]string{domain.StageCollection: "c1", domain.StageProcessing: "p1"}
	completed := testutil.TestTaskStatus("t1", "completed", domain.StageDashboard)
	completed.DashboardURL = "https://analysis.example.com/dashboard/t1"

	script := testutil.NewStatusScript(
		testutil.StatusStep{Status: processing},
		step("analyzing", domain.StageAnalysis),
		testutil.StatusStep{Status: completed},
	)
	client := &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}
	observer := &testutil.RecordingObserver{}
	tracker := newTracker(repo, client, fastConfig(), application.WithTrackerObserver(observer))

	// Execute
	outcome, err := tracker.Track(ctx, src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Result)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, "https://analysis.example.com/dashboard/t1", outcome.DashboardURL)
	assert.NoError(t, outcome.Err())
	assert.Equal(t, 3, script.Calls(), "no remote call after the terminal status")

	stored, ok := repo.Source(src.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "t1", stored.Metadata.TaskID)
	assert.Equal(t, "c1", stored.Metadata.SubTaskID(domain.StageCollection))
	assert.Equal(t, "p1", stored.Metadata.SubTaskID(domain.StageProcessing))
	assert.Equal(t, completed.DashboardURL, stored.Metadata.DashboardURL)
	assert.Equal(t, []any{"#launch"}, stored.Metadata.Extra["hashtags"])
	assert.NotNil(t, stored.Metadata.CompletedAt)
	assert.Contains(t, stored.Metadata.StageStartedAt, domain.StageAnalysis)

	assert.Contains(t, observer.Types(), domain.EventTypeCompleted)
	assert.Empty(t, tracker.Active())
}

func TestTracker_Track_StopsAtFirstTerminalStatus(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusAnalyzing)
	repo := testutil.NewMemoryRepository(src)
	failed := testutil.TestTaskStatus("t1", "failed", domain.StageDashboard)
	failed.Message = "dashboard renderer crashed"

	for _, late := range []*domain.TaskStatus{failed, testutil.TestTaskStatus("t1", "error", domain.StageDashboard)} {
		t.Run(late.Status, func(t *testing.T) {
			repo.Put(src)
			script := testutil.NewStatusScript(
				step("completed", domain.StageDashboard),
				testutil.StatusStep{Status: late},
			)
			observer := &testutil.RecordingObserver{}
			tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig(), application.WithTrackerObserver(observer))

			// Execute
			outcome, err := tracker.Track(context.Background(), src.ID)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeCompleted, outcome.Result)
			assert.Equal(t, 1, script.Calls(), "the response after completed is never fetched")

			stored, _ := repo.Source(src.ID)
			assert.Equal(t, domain.StatusCompleted, stored.Status)
			assert.Empty(t, stored.Metadata.ErrorMessage)

			types := observer.Types()
			assert.Contains(t, types, domain.EventTypeCompleted)
			assert.NotContains(t, types, domain.EventTypeFailed)
			assert.NotContains(t, types, domain.EventTypeTimeout)
		})
	}
}

func TestTracker_Track_SkipsWritesWhenNothingChanged(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	script := testutil.NewStatusScript(
		step("processing", domain.StageProcessing),
		step("processing", domain.StageProcessing),
		step("processing", domain.StageProcessing),
		step("completed", domain.StageDashboard),
	)
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig())

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Result)
	assert.Equal(t, 4, script.Calls())
	assert.Equal(t, 2, repo.Updates(src.ID))
}

func TestTracker_Track_StatusNeverMovesBackwards(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	script := testutil.NewStatusScript(
		step("analyzing", domain.StageAnalysis),
		step("collecting", domain.StageCollection),
	)
	observer := &testutil.RecordingObserver{}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, cfg, application.WithTrackerObserver(observer))

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.Result)

	var statuses []domain.Status
	for _, e := range observer.Events() {
		if e.Type == domain.EventTypeStatus {
			statuses = append(statuses, e.Status)
		}
	}
	assert.Equal(t, []domain.Status{domain.StatusAnalyzing}, statuses)

	stored, _ := repo.Source(src.ID)
	assert.Equal(t, domain.StageCollection, stored.Metadata.CurrentStage, "stage metadata is still merged")
}

func TestTracker_Track_TimesOutAfterMaxAttempts(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	script := testutil.NewStatusScript(step("processing", domain.StageProcessing))
	observer := &testutil.RecordingObserver{}
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, cfg, application.WithTrackerObserver(observer))

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.Result)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, script.Calls())

	var timeoutErr *domain.TimeoutError
	require.True(t, errors.As(outcome.Err(), &timeoutErr))
	assert.Equal(t, 3, timeoutErr.Attempts)

	stored, _ := repo.Source(src.ID)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.Equal(t, domain.TimeoutMessage, stored.Metadata.ErrorMessage)
	assert.NotNil(t, stored.Metadata.ErrorTime)

	types := observer.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, domain.EventTypeTimeout, types[len(types)-1])
	assert.NotContains(t, types, domain.EventTypeCompleted)
}

func TestTracker_Track_RetriesTimeoutWrite(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	repo.UpdateErrs = []error{errors.New("connection reset by peer")}
	script := testutil.NewStatusScript(testutil.StatusStep{Err: errors.New("connection refused")})
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, cfg)

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.Result)
	assert.Empty(t, repo.UpdateErrs)

	stored, _ := repo.Source(src.ID)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.Equal(t, domain.TimeoutMessage, stored.Metadata.ErrorMessage)
	assert.Equal(t, 1, repo.Updates(src.ID))
}

func TestTracker_Track_TimesOutOnElapsedCeiling(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	script := testutil.NewStatusScript(step("processing", domain.StageProcessing))

	// 1回の呼び出しごとに1分進む時計
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var ticks int
	clock := func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Minute)
	}

	cfg := application.TrackerConfig{PollInterval: 5 * time.Millisecond, Timeout: 3 * time.Minute, MaxAttempts: 1000}
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, cfg, application.WithTrackerClock(clock))

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTimedOut, outcome.Result)
	assert.Less(t, script.Calls(), 1000)
}

func TestTracker_Track_RemoteFailure(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusProcessing)
	repo := testutil.NewMemoryRepository(src)
	failed := testutil.TestTaskStatus("t1", "failed", domain.StageAnalysis)
	failed.Message = "analysis worker crashed"
	script := testutil.NewStatusScript(testutil.StatusStep{Status: failed})
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig())

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, outcome.Result)
	assert.Equal(t, "analysis worker crashed", outcome.Message)

	var remoteErr *domain.RemoteFailure
	require.True(t, errors.As(outcome.Err(), &remoteErr))
	assert.Equal(t, "analysis worker crashed", remoteErr.Message)

	stored, _ := repo.Source(src.ID)
	assert.Equal(t, domain.StatusError, stored.Status)
	assert.Equal(t, "analysis worker crashed", stored.Metadata.ErrorMessage)
	assert.Equal(t, 1, script.Calls())
}

func TestTracker_Track_TransientPollErrorsDoNotChangeStatus(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	script := testutil.NewStatusScript(
		testutil.StatusStep{Err: errors.New("connection refused")},
		testutil.StatusStep{Err: errors.New("502 bad gateway")},
		step("completed", domain.StageDashboard),
	)
	observer := &testutil.RecordingObserver{}
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig(), application.WithTrackerObserver(observer))

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, outcome.Result)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 1, repo.Updates(src.ID))

	pollErrors := 0
	for _, e := range observer.Events() {
		if e.Type == domain.EventTypePollError {
			pollErrors++
		}
	}
	assert.Equal(t, 2, pollErrors)
}

func TestTracker_Track_PreconditionErrors(t *testing.T) {
	ctx := context.Background()
	client := &testutil.MockAnalysisClient{}

	t.Run("not found", func(t *testing.T) {
		tracker := newTracker(testutil.NewMemoryRepository(), client, fastConfig())
		_, err := tracker.Track(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrSourceNotFound)
	})

	t.Run("no task id", func(t *testing.T) {
		src := testutil.TestDataSource("Forum", domain.SourceTypeForum, domain.StatusPending)
		tracker := newTracker(testutil.NewMemoryRepository(src), client, fastConfig())
		_, err := tracker.Track(ctx, src.ID)
		assert.ErrorIs(t, err, domain.ErrNoTaskID)
		assert.Empty(t, tracker.Active())
	})

	t.Run("already terminal", func(t *testing.T) {
		src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCompleted)
		src.Metadata.DashboardURL = "https://analysis.example.com/dashboard/t1"
		script := testutil.NewStatusScript()
		tracker := newTracker(testutil.NewMemoryRepository(src), &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig())

		outcome, err := tracker.Track(ctx, src.ID)

		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeCompleted, outcome.Result)
		assert.Equal(t, src.Metadata.DashboardURL, outcome.DashboardURL)
		assert.Zero(t, script.Calls())
	})
}

func TestTracker_Start_RejectsDuplicateLoop(t *testing.T) {
	// Setup
	ctx := context.Background()
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	script := testutil.NewStatusScript(step("processing", domain.StageProcessing))
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig())

	// Execute
	require.NoError(t, tracker.Start(ctx, src.ID))
	secondStart := tracker.Start(ctx, src.ID)
	_, secondTrack := tracker.Track(ctx, src.ID)

	// Assert
	assert.ErrorIs(t, secondStart, domain.ErrAlreadyTracking)
	assert.ErrorIs(t, secondTrack, domain.ErrAlreadyTracking)
	assert.Equal(t, []uuid.UUID{src.ID}, tracker.Active())

	assert.True(t, tracker.Cancel(src.ID))
	tracker.Wait()
	assert.Empty(t, tracker.Active())
	assert.False(t, tracker.Cancel(src.ID))

	// 停止後は再び開始できる
	require.NoError(t, tracker.Start(ctx, src.ID))
	tracker.Shutdown()
}

func TestTracker_Start_LockerRefusal(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	locker := &testutil.MockLocker{
		TryLockFunc: func(ctx context.Context, id uuid.UUID) (func(), bool, error) {
			return nil, false, nil
		},
	}
	tracker := newTracker(testutil.NewMemoryRepository(src), &testutil.MockAnalysisClient{}, fastConfig(), application.WithTrackerLocker(locker))

	// Execute
	err := tracker.Start(context.Background(), src.ID)

	// Assert
	assert.ErrorIs(t, err, domain.ErrAlreadyTracking)
	assert.Empty(t, tracker.Active())
}

func TestTracker_Start_ReleasesLockWhenLoopEnds(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	unlocked := make(chan struct{})
	locker := &testutil.MockLocker{
		TryLockFunc: func(ctx context.Context, id uuid.UUID) (func(), bool, error) {
			return func() { close(unlocked) }, true, nil
		},
	}
	script := testutil.NewStatusScript(step("completed", domain.StageDashboard))
	tracker := newTracker(testutil.NewMemoryRepository(src), &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig(), application.WithTrackerLocker(locker))

	// Execute
	require.NoError(t, tracker.Start(context.Background(), src.ID))
	tracker.Wait()

	// Assert
	select {
	case <-unlocked:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}
}

func TestTracker_Cancel_DiscardsLateResponse(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	called := make(chan struct{}, 1)
	release := make(chan struct{})
	client := &testutil.MockAnalysisClient{
		GetTaskStatusFunc: func(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
			select {
			case called <- struct{}{}:
			default:
			}
			<-release
			return testutil.TestTaskStatus(taskID, "completed", domain.StageDashboard), nil
		},
	}
	observer := &testutil.RecordingObserver{}
	tracker := newTracker(repo, client, fastConfig(), application.WithTrackerObserver(observer))

	// Execute
	require.NoError(t, tracker.Start(context.Background(), src.ID))
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("tracker did not poll")
	}
	assert.True(t, tracker.Cancel(src.ID))
	close(release)
	tracker.Wait()

	// Assert
	stored, _ := repo.Source(src.ID)
	assert.Equal(t, domain.StatusCollecting, stored.Status)
	assert.Zero(t, repo.Updates(src.ID))
	assert.Equal(t, []domain.EventType{domain.EventTypeCancelled}, observer.Types())
}

func TestTracker_Track_StopsWhenRecordDeleted(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	repo := testutil.NewMemoryRepository(src)
	repo.UpdateErr = domain.ErrSourceNotFound
	script := testutil.NewStatusScript(step("processing", domain.StageProcessing))
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig())

	// Execute
	outcome, err := tracker.Track(context.Background(), src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, outcome.Result)
	assert.Equal(t, 1, script.Calls())
}

func TestTracker_Track_ContextCancellation(t *testing.T) {
	// Setup
	src := testutil.TestTrackedDataSource("Forum", "t1", domain.StatusCollecting)
	script := testutil.NewStatusScript(step("processing", domain.StageProcessing))
	tracker := newTracker(testutil.NewMemoryRepository(src), &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// Execute
	outcome, err := tracker.Track(ctx, src.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, outcome.Result)
	assert.NoError(t, outcome.Err())
}

func TestTracker_Resume(t *testing.T) {
	// Setup
	active := testutil.TestTrackedDataSource("Active", "t1", domain.StatusProcessing)
	noTask := testutil.TestDataSource("Pending", domain.SourceTypeForum, domain.StatusPending)
	done := testutil.TestTrackedDataSource("Done", "t2", domain.StatusCompleted)
	repo := testutil.NewMemoryRepository(active, noTask, done)

	script := testutil.NewStatusScript(step("completed", domain.StageDashboard))
	tracker := newTracker(repo, &testutil.MockAnalysisClient{GetTaskStatusFunc: script.GetTaskStatus}, fastConfig())

	// Execute
	started, err := tracker.Resume(context.Background())
	tracker.Wait()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	stored, _ := repo.Source(active.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	pending, _ := repo.Source(noTask.ID)
	assert.Equal(t, domain.StatusPending, pending.Status)
}
