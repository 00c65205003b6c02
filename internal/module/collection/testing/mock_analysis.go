package testing

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// MockAnalysisClient はテスト用のモックAnalysisClientです
type MockAnalysisClient struct {
	RunPipelineFunc       func(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error)
	CollectFunc           func(ctx context.Context, req domain.CollectorRequest, withFiles bool) (*domain.PipelineResponse, error)
	ProcessFunc           func(ctx context.Context, collectionTaskID string) (*domain.PipelineResponse, error)
	AnalyzeFunc           func(ctx context.Context, processingTaskID string) (*domain.PipelineResponse, error)
	GenerateDashboardFunc func(ctx context.Context, analysisTaskID string, includeAlerts, includeReport bool) (*domain.PipelineResponse, error)
	GetTaskStatusFunc     func(ctx context.Context, taskID string) (*domain.TaskStatus, error)
	GetDashboardHTMLFunc  func(ctx context.Context, taskID string) (*domain.DashboardContent, error)
	FetchDashboardURLFunc func(ctx context.Context, dashboardURL string) (*domain.DashboardContent, error)
	GetReportFunc         func(ctx context.Context, taskID string) (*domain.Report, error)
}

var _ domain.AnalysisClient = (*MockAnalysisClient)(nil)

func (m *MockAnalysisClient) RunPipeline(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResponse, error) {
	if m.RunPipelineFunc != nil {
		return m.RunPipelineFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockAnalysisClient) Collect(ctx context.Context, req domain.CollectorRequest, withFiles bool) (*domain.PipelineResponse, error) {
	if m.CollectFunc != nil {
		return m.CollectFunc(ctx, req, withFiles)
	}
	return nil, nil
}

func (m *MockAnalysisClient) Process(ctx context.Context, collectionTaskID string) (*domain.PipelineResponse, error) {
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, collectionTaskID)
	}
	return nil, nil
}

func (m *MockAnalysisClient) Analyze(ctx context.Context, processingTaskID string) (*domain.PipelineResponse, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, processingTaskID)
	}
	return nil, nil
}

func (m *MockAnalysisClient) GenerateDashboard(ctx context.Context, analysisTaskID string, includeAlerts, includeReport bool) (*domain.PipelineResponse, error) {
	if m.GenerateDashboardFunc != nil {
		return m.GenerateDashboardFunc(ctx, analysisTaskID, includeAlerts, includeReport)
	}
	return nil, nil
}

func (m *MockAnalysisClient) GetTaskStatus(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	if m.GetTaskStatusFunc != nil {
		return m.GetTaskStatusFunc(ctx, taskID)
	}
	return nil, nil
}

func (m *MockAnalysisClient) GetDashboardHTML(ctx context.Context, taskID string) (*domain.DashboardContent, error) {
	if m.GetDashboardHTMLFunc != nil {
		return m.GetDashboardHTMLFunc(ctx, taskID)
	}
	return nil, nil
}

func (m *MockAnalysisClient) FetchDashboardURL(ctx context.Context, dashboardURL string) (*domain.DashboardContent, error) {
	if m.FetchDashboardURLFunc != nil {
		return m.FetchDashboardURLFunc(ctx, dashboardURL)
	}
	return nil, nil
}

func (m *MockAnalysisClient) GetReport(ctx context.Context, taskID string) (*domain.Report, error) {
	if m.GetReportFunc != nil {
		return m.GetReportFunc(ctx, taskID)
	}
	return nil, nil
}

// StatusScript は GetTaskStatus が順に返す応答列です
// 末尾に達した後は最後の応答を返し続けます
type StatusScript struct {
	mu    sync.Mutex
	steps []StatusStep
	calls int
}

// StatusStep は1回分の応答です
type StatusStep struct {
	Status *domain.TaskStatus
	Err    error
}

// NewStatusScript は応答列を作成します
func NewStatusScript(steps ...StatusStep) *StatusScript {
	return &StatusScript{steps: steps}
}

// GetTaskStatus は MockAnalysisClient.GetTaskStatusFunc に渡せる実装です
func (s *StatusScript) GetTaskStatus(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.steps) == 0 {
		return nil, nil
	}
	idx := min(s.calls, len(s.steps)) - 1
	step := s.steps[idx]
	if step.Status == nil {
		return nil, step.Err
	}
	status := *step.Status
	return &status, step.Err
}

// Calls は GetTaskStatus の呼び出し回数を返します
func (s *StatusScript) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MockSummarizer はテスト用のモックSummarizerです
type MockSummarizer struct {
	SummarizeFunc func(ctx context.Context, in domain.SummaryInput) (string, error)
}

var _ domain.Summarizer = (*MockSummarizer)(nil)

func (m *MockSummarizer) Summarize(ctx context.Context, in domain.SummaryInput) (string, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, in)
	}
	return "", nil
}

// MockLocker はテスト用のモックLockerです
type MockLocker struct {
	TryLockFunc func(ctx context.Context, id uuid.UUID) (func(), bool, error)
}

var _ domain.Locker = (*MockLocker)(nil)

func (m *MockLocker) TryLock(ctx context.Context, id uuid.UUID) (func(), bool, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, id)
	}
	return func() {}, true, nil
}

// MockTrackingStarter はテスト用のモックTrackingStarterです
type MockTrackingStarter struct {
	StartFunc  func(ctx context.Context, id uuid.UUID) error
	CancelFunc func(id uuid.UUID) bool
}

func (m *MockTrackingStarter) Start(ctx context.Context, id uuid.UUID) error {
	if m.StartFunc != nil {
		return m.StartFunc(ctx, id)
	}
	return nil
}

func (m *MockTrackingStarter) Cancel(id uuid.UUID) bool {
	if m.CancelFunc != nil {
		return m.CancelFunc(id)
	}
	return false
}

// RecordingObserver は発行されたイベントを記録するObserverです
type RecordingObserver struct {
	mu     sync.Mutex
	events []domain.Event
}

var _ domain.Observer = (*RecordingObserver)(nil)

func (o *RecordingObserver) Publish(event domain.Event) domain.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	event.Seq = int64(len(o.events) + 1)
	o.events = append(o.events, event)
	return event
}

// Events は記録済みイベントの複製を返します
func (o *RecordingObserver) Events() []domain.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Event(nil), o.events...)
}

// Types は記録済みイベントの種別を順に返します
func (o *RecordingObserver) Types() []domain.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.EventType, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.Type)
	}
	return out
}

// MockNotifier はテスト用のモックChangeNotifierです
// ListenFunc が未設定の場合は Events に送られた変更を ctx 終了まで配信します
type MockNotifier struct {
	ListenFunc func(ctx context.Context, handle func(domain.ChangeEvent)) error
	Events     chan domain.ChangeEvent
}

var _ domain.ChangeNotifier = (*MockNotifier)(nil)

func (m *MockNotifier) Listen(ctx context.Context, handle func(domain.ChangeEvent)) error {
	if m.ListenFunc != nil {
		return m.ListenFunc(ctx, handle)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-m.Events:
			handle(event)
		}
	}
}
