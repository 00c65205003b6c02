package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// TrackerConfig はポーリング間隔と打ち切り条件です
type TrackerConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// MaxAttempts が0以下の場合は Timeout / PollInterval（切り上げ）を使います
	MaxAttempts int
}

// DefaultTrackerConfig はデフォルトの追跡設定を返します
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PollInterval: 5 * time.Second,
		Timeout:      10 * time.Minute,
	}
}

func (c TrackerConfig) normalize() TrackerConfig {
	def := DefaultTrackerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = int((c.Timeout + c.PollInterval - 1) / c.PollInterval)
	}
	return c
}

type trackerOptions struct {
	logger   *slog.Logger
	observer domain.Observer
	locker   domain.Locker
	clock    func() time.Time
}

// TrackerOption は Tracker のオプション設定
type TrackerOption func(*trackerOptions)

// WithTrackerLogger は Tracker にロガーを設定する
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(o *trackerOptions) {
		o.logger = logger
	}
}

// WithTrackerObserver はイベントの受け口を設定する
func WithTrackerObserver(observer domain.Observer) TrackerOption {
	return func(o *trackerOptions) {
		o.observer = observer
	}
}

// WithTrackerLocker はプロセス間の重複追跡を防ぐロックを設定する
func WithTrackerLocker(locker domain.Locker) TrackerOption {
	return func(o *trackerOptions) {
		o.locker = locker
	}
}

// WithTrackerClock は現在時刻の取得関数を差し替える
func WithTrackerClock(clock func() time.Time) TrackerOption {
	return func(o *trackerOptions) {
		o.clock = clock
	}
}

// Tracker はジョブごとにポーリングループを動かし、リモートの進捗をレコードへ反映します
// 同じジョブに対して同時に動くループは高々1つです
type Tracker struct {
	repo     domain.SourceRepository
	client   domain.AnalysisClient
	cfg      TrackerConfig
	observer domain.Observer
	locker   domain.Locker
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	loops map[uuid.UUID]*trackedLoop
	wg    sync.WaitGroup
}

var errEmptyTaskStatus = errors.New("empty task status response")

const (
	// storeTimeout はレコードストアへの1回の書き込みの上限です
	storeTimeout = 10 * time.Second
	// timeoutWriteAttempts はタイムアウト確定の書き込みを試す回数です
	timeoutWriteAttempts = 2
)

type trackedLoop struct {
	cancel context.CancelFunc
}

// NewTracker は新しいTrackerを作成します
func NewTracker(repo domain.SourceRepository, client domain.AnalysisClient, cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	options := trackerOptions{
		logger:   slog.Default(),
		observer: domain.NopObserver{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Tracker{
		repo:     repo,
		client:   client,
		cfg:      cfg.normalize(),
		observer: options.observer,
		locker:   options.locker,
		logger:   options.logger,
		now:      options.clock,
		loops:    make(map[uuid.UUID]*trackedLoop),
	}
}

// Config は正規化済みの追跡設定を返します
func (t *Tracker) Config() TrackerConfig {
	return t.cfg
}

// Start はジョブの追跡ループをバックグラウンドで開始します
// ループは呼び出し元の ctx の取り消しとは独立に動き、Cancel / Shutdown で停止します
func (t *Tracker) Start(ctx context.Context, id uuid.UUID) error {
	loopCtx, src, release, err := t.register(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}

	if src.Status.IsTerminal() {
		release()
		t.logger.Debug("Data source is already terminal", "sourceID", id, "status", src.Status)
		return nil
	}

	go func() {
		defer release()
		t.run(loopCtx, src)
	}()

	return nil
}

// Track はジョブを同期的に追跡し、終了理由を返します
// ctx が取り消されるとループは Cancelled で終了します
func (t *Tracker) Track(ctx context.Context, id uuid.UUID) (*domain.Outcome, error) {
	loopCtx, src, release, err := t.register(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if src.Status.IsTerminal() {
		return terminalOutcome(src), nil
	}

	return t.run(loopCtx, src), nil
}

// Cancel は動作中のループを停止します。ループが無ければ false を返します
func (t *Tracker) Cancel(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	loop, ok := t.loops[id]
	if ok {
		loop.cancel()
	}
	return ok
}

// Active は追跡中のジョブID一覧を返します
func (t *Tracker) Active() []uuid.UUID {
	t.mu.Lock()
	ids := make([]uuid.UUID, 0, len(t.loops))
	for id := range t.loops {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids
}

// Wait はすべてのループの終了を待ちます
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Shutdown はすべてのループを取り消し、終了を待ちます
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	for _, loop := range t.loops {
		loop.cancel()
	}
	t.mu.Unlock()

	t.wg.Wait()
}

// Resume は未完了でタスクIDを持つジョブの追跡を再開し、開始した件数を返します
func (t *Tracker) Resume(ctx context.Context) (int, error) {
	sources, err := t.repo.ListDataSources(ctx, domain.SourceFilter{
		Statuses: []domain.Status{
			domain.StatusPending,
			domain.StatusCollecting,
			domain.StatusProcessing,
			domain.StatusAnalyzing,
		},
		OrderBy: domain.OrderByCreatedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished data sources: %w", err)
	}

	started := 0
	for _, src := range sources {
		if src.Metadata.TaskID == "" {
			continue
		}

		err := t.Start(ctx, src.ID)
		switch {
		case err == nil:
			started++
		case errors.Is(err, domain.ErrAlreadyTracking):
			t.logger.Debug("Data source is already being tracked", "sourceID", src.ID)
		default:
			t.logger.Warn("Failed to resume tracking", "sourceID", src.ID, "error", err)
		}
	}

	t.logger.Info("Resumed tracking", "started", started, "candidates", len(sources))
	return started, nil
}

// register はループを登録し、追跡対象のレコードを読み込みます
// release はループ終了時に1回だけ呼び出します
func (t *Tracker) register(parent context.Context, id uuid.UUID) (context.Context, domain.DataSource, func(), error) {
	t.mu.Lock()
	if _, ok := t.loops[id]; ok {
		t.mu.Unlock()
		return nil, domain.DataSource{}, nil, domain.ErrAlreadyTracking
	}

	loopCtx, cancel := context.WithCancel(parent)
	entry := &trackedLoop{cancel: cancel}
	t.loops[id] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	var unlock func()
	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			if unlock != nil {
				unlock()
			}
			t.mu.Lock()
			if t.loops[id] == entry {
				delete(t.loops, id)
			}
			t.mu.Unlock()
			t.wg.Done()
		})
	}

	srcOpt, err := t.repo.GetDataSource(loopCtx, id)
	if err != nil {
		release()
		return nil, domain.DataSource{}, nil, fmt.Errorf("failed to get data source: %w", err)
	}
	src, ok := srcOpt.Get()
	if !ok {
		release()
		return nil, domain.DataSource{}, nil, domain.ErrSourceNotFound
	}

	if src.Status.IsTerminal() {
		return loopCtx, *src, release, nil
	}
	if src.Metadata.TaskID == "" {
		release()
		return nil, domain.DataSource{}, nil, domain.ErrNoTaskID
	}

	if t.locker != nil {
		fn, acquired, err := t.locker.TryLock(loopCtx, id)
		if err != nil {
			release()
			return nil, domain.DataSource{}, nil, fmt.Errorf("failed to acquire tracking lock: %w", err)
		}
		if !acquired {
			release()
			return nil, domain.DataSource{}, nil, domain.ErrAlreadyTracking
		}
		unlock = fn
	}

	return loopCtx, *src, release, nil
}

// run はポーリングループ本体です
// 待機してからポーリングし、終端状態・上限到達・取り消しのうち最初に起きたもので終了します
func (t *Tracker) run(ctx context.Context, src domain.DataSource) *domain.Outcome {
	start := t.now()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.logger.Info("Starting pipeline tracking",
		"sourceID", src.ID,
		"taskID", src.Metadata.TaskID,
		"status", src.Status,
		"pollInterval", t.cfg.PollInterval,
		"maxAttempts", t.cfg.MaxAttempts,
	)

	current := src
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return t.cancelled(current, attempts, start)
		case <-ticker.C:
		}

		attempts++
		resp, err := t.client.GetTaskStatus(ctx, current.Metadata.TaskID)
		if ctx.Err() != nil {
			// 取り消し後に届いた応答は捨てる
			return t.cancelled(current, attempts, start)
		}
		if err == nil && resp == nil {
			err = errEmptyTaskStatus
		}

		if err != nil {
			t.pollFailed(&domain.PollError{SourceID: current.ID, Attempt: attempts, Err: err})
		} else {
			next, outcome, err := t.observe(ctx, current, *resp, attempts, start)
			switch {
			case errors.Is(err, domain.ErrSourceNotFound):
				t.logger.Info("Data source was deleted, stopping tracker", "sourceID", current.ID)
				return t.cancelled(current, attempts, start)
			case err != nil:
				t.pollFailed(&domain.PollError{SourceID: current.ID, Attempt: attempts, Err: err})
			default:
				current = next
			}
			if outcome != nil {
				return outcome
			}
		}

		if attempts >= t.cfg.MaxAttempts || t.now().Sub(start) >= t.cfg.Timeout {
			return t.timedOut(ctx, current, attempts, start)
		}
	}
}

// observe は1回分の応答をレコードへ反映します
// 変化がない場合は書き込みません
func (t *Tracker) observe(ctx context.Context, current domain.DataSource, resp domain.TaskStatus, attempts int, start time.Time) (domain.DataSource, *domain.Outcome, error) {
	next, changed := domain.Apply(current, resp, t.now())
	if !changed {
		return current, nil, nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	updated, err := t.repo.UpdateDataSource(writeCtx, domain.UpdateParamsFrom(next))
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return current, nil, err
		}
		return current, nil, fmt.Errorf("failed to update data source: %w", err)
	}
	if updated != nil {
		next = *updated
	}

	t.publishTransition(current, next, attempts)

	switch next.Status {
	case domain.StatusCompleted:
		return next, t.finish(next, domain.OutcomeCompleted, attempts, start), nil
	case domain.StatusError:
		return next, t.finish(next, domain.OutcomeFailed, attempts, start), nil
	default:
		return next, nil, nil
	}
}

func (t *Tracker) publishTransition(prev, next domain.DataSource, attempts int) {
	if next.Metadata.CurrentStage != "" && next.Metadata.CurrentStage != prev.Metadata.CurrentStage {
		t.observer.Publish(domain.Event{
			SourceID: next.ID,
			Type:     domain.EventTypeStage,
			Status:   next.Status,
			Stage:    next.Metadata.CurrentStage,
			TaskID:   next.Metadata.SubTaskID(next.Metadata.CurrentStage),
			Attempt:  attempts,
		})
	}

	if next.Status != prev.Status {
		t.logger.Info("Status changed",
			"sourceID", next.ID,
			"from", prev.Status,
			"to", next.Status,
			"stage", next.Metadata.CurrentStage,
		)
		t.observer.Publish(domain.Event{
			SourceID: next.ID,
			Type:     domain.EventTypeStatus,
			Status:   next.Status,
			Stage:    next.Metadata.CurrentStage,
			TaskID:   next.Metadata.TaskID,
			Attempt:  attempts,
		})
	}
}

func (t *Tracker) pollFailed(pollErr *domain.PollError) {
	t.logger.Warn("Poll failed", "sourceID", pollErr.SourceID, "attempt", pollErr.Attempt, "error", pollErr.Err)
	t.observer.Publish(domain.Event{
		SourceID: pollErr.SourceID,
		Type:     domain.EventTypePollError,
		Attempt:  pollErr.Attempt,
		Message:  pollErr.Err.Error(),
	})
}

func (t *Tracker) finish(src domain.DataSource, result domain.OutcomeResult, attempts int, start time.Time) *domain.Outcome {
	outcome := &domain.Outcome{
		SourceID:     src.ID,
		Result:       result,
		Status:       src.Status,
		Attempts:     attempts,
		Elapsed:      t.now().Sub(start),
		DashboardURL: src.Metadata.DashboardURL,
	}

	event := domain.Event{
		SourceID:     src.ID,
		Status:       src.Status,
		TaskID:       src.Metadata.TaskID,
		Attempt:      attempts,
		DashboardURL: src.Metadata.DashboardURL,
	}

	if result == domain.OutcomeCompleted {
		t.logger.Info("Pipeline completed", "sourceID", src.ID, "attempts", attempts, "dashboardURL", src.Metadata.DashboardURL)
		event.Type = domain.EventTypeCompleted
	} else {
		outcome.Message = src.Metadata.ErrorMessage
		t.logger.Error("Pipeline failed", "sourceID", src.ID, "attempts", attempts, "error", outcome.Message)
		event.Type = domain.EventTypeFailed
		event.Message = outcome.Message
	}

	t.observer.Publish(event)
	return outcome
}

// timedOut はレコードを error に確定させます
func (t *Tracker) timedOut(ctx context.Context, current domain.DataSource, attempts int, start time.Time) *domain.Outcome {
	now := t.now()
	elapsed := now.Sub(start)

	failed := current
	failed.Status = domain.StatusError
	failed.Metadata = current.Metadata.WithError(domain.TimeoutMessage, now)
	failed.LastUpdated = now

	t.recordTimeout(ctx, failed)

	t.logger.Warn("Tracking timed out", "sourceID", current.ID, "attempts", attempts, "elapsed", elapsed)
	t.observer.Publish(domain.Event{
		SourceID: current.ID,
		Type:     domain.EventTypeTimeout,
		Status:   domain.StatusError,
		TaskID:   current.Metadata.TaskID,
		Attempt:  attempts,
		Message:  domain.TimeoutMessage,
	})

	return &domain.Outcome{
		SourceID: current.ID,
		Result:   domain.OutcomeTimedOut,
		Status:   domain.StatusError,
		Attempts: attempts,
		Elapsed:  elapsed,
		Message:  domain.TimeoutMessage,
	}
}

// recordTimeout はタイムアウトをレコードへ書き込みます
// 失敗した場合はループの ctx とは独立に再試行します
func (t *Tracker) recordTimeout(ctx context.Context, failed domain.DataSource) {
	base := context.WithoutCancel(ctx)
	for attempt := 1; attempt <= timeoutWriteAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(base, storeTimeout)
		_, err := t.repo.UpdateDataSource(writeCtx, domain.UpdateParamsFrom(failed))
		cancel()

		switch {
		case err == nil:
			return
		case errors.Is(err, domain.ErrSourceNotFound):
			return
		case attempt < timeoutWriteAttempts:
			t.logger.Warn("Failed to record tracking timeout, retrying", "sourceID", failed.ID, "error", err)
		default:
			t.logger.Error("Failed to record tracking timeout", "sourceID", failed.ID, "attempts", attempt, "error", err)
		}
	}
}

func (t *Tracker) cancelled(current domain.DataSource, attempts int, start time.Time) *domain.Outcome {
	t.logger.Info("Stopped tracking", "sourceID", current.ID, "attempts", attempts)
	t.observer.Publish(domain.Event{
		SourceID: current.ID,
		Type:     domain.EventTypeCancelled,
		Status:   current.Status,
		TaskID:   current.Metadata.TaskID,
		Attempt:  attempts,
	})

	return &domain.Outcome{
		SourceID: current.ID,
		Result:   domain.OutcomeCancelled,
		Status:   current.Status,
		Attempts: attempts,
		Elapsed:  t.now().Sub(start),
	}
}

func terminalOutcome(src domain.DataSource) *domain.Outcome {
	outcome := &domain.Outcome{
		SourceID:     src.ID,
		Status:       src.Status,
		DashboardURL: src.Metadata.DashboardURL,
	}
	if src.Status == domain.StatusCompleted {
		outcome.Result = domain.OutcomeCompleted
	} else {
		outcome.Result = domain.OutcomeFailed
		outcome.Message = src.Metadata.ErrorMessage
		if outcome.Message == domain.TimeoutMessage {
			outcome.Result = domain.OutcomeTimedOut
		}
	}
	return outcome
}
