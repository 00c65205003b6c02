package domain

import "context"

// AnalysisClient はリモート解析サービスのポートです
// サービス内部は不透明な協調者として扱います
type AnalysisClient interface {
	// RunPipeline は収集から可視化までを1回の呼び出しで投入します
	RunPipeline(ctx context.Context, req PipelineRequest) (*PipelineResponse, error)

	// 段階呼び出し版のAPI
	Collect(ctx context.Context, req CollectorRequest, withFiles bool) (*PipelineResponse, error)
	Process(ctx context.Context, collectionTaskID string) (*PipelineResponse, error)
	Analyze(ctx context.Context, processingTaskID string) (*PipelineResponse, error)
	GenerateDashboard(ctx context.Context, analysisTaskID string, includeAlerts, includeReport bool) (*PipelineResponse, error)

	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	GetDashboardHTML(ctx context.Context, taskID string) (*DashboardContent, error)
	FetchDashboardURL(ctx context.Context, dashboardURL string) (*DashboardContent, error)
	GetReport(ctx context.Context, taskID string) (*Report, error)
}

// Summarizer はレポートの自然言語要約を生成するポートです
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) (string, error)
}
