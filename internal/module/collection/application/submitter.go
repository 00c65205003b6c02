package application

import (
	"context"
	"fmt"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// 投入方式
const (
	SubmissionModePipeline = "pipeline"
	SubmissionModeChained  = "chained"
)

// Submitter はジョブをリモート解析サービスへ投入する戦略です
// 追跡ループは投入方式によらず共通で、違いはここに閉じ込めます
type Submitter interface {
	Name() string
	Submit(ctx context.Context, src domain.DataSource) (*domain.SubmitResult, error)
}

// NewSubmitter は設定値から投入方式を選択します
func NewSubmitter(mode string, client domain.AnalysisClient) (Submitter, error) {
	switch mode {
	case "", SubmissionModePipeline:
		return NewPipelineSubmitter(client), nil
	case SubmissionModeChained:
		return NewChainedSubmitter(client), nil
	default:
		return nil, fmt.Errorf("unknown submission mode: %q", mode)
	}
}

// PipelineSubmitter は統合パイプラインAPIへ1回で投入します
type PipelineSubmitter struct {
	client domain.AnalysisClient
}

// NewPipelineSubmitter は新しいPipelineSubmitterを作成します
func NewPipelineSubmitter(client domain.AnalysisClient) *PipelineSubmitter {
	return &PipelineSubmitter{client: client}
}

// Name は投入方式名を返します
func (s *PipelineSubmitter) Name() string { return SubmissionModePipeline }

// Submit は POST /pipeline を呼び出します
func (s *PipelineSubmitter) Submit(ctx context.Context, src domain.DataSource) (*domain.SubmitResult, error) {
	resp, err := s.client.RunPipeline(ctx, domain.BuildPipelineRequest(src))
	if err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}
	if resp.TaskID == "" {
		return nil, fmt.Errorf("pipeline response has no task id")
	}

	return &domain.SubmitResult{
		TaskID:       resp.TaskID,
		Status:       resp.Status,
		DashboardURL: resp.DashboardURL,
	}, nil
}

// ChainedSubmitter は collect → process → analyze → dashboard を順に投入します
// 各段階のタスクIDは次の段階の入力となり、最後のダッシュボードタスクを追跡対象とします
type ChainedSubmitter struct {
	client domain.AnalysisClient
}

// NewChainedSubmitter は新しいChainedSubmitterを作成します
func NewChainedSubmitter(client domain.AnalysisClient) *ChainedSubmitter {
	return &ChainedSubmitter{client: client}
}

// Name は投入方式名を返します
func (s *ChainedSubmitter) Name() string { return SubmissionModeChained }

// Submit は4段階の呼び出しを連鎖させます
func (s *ChainedSubmitter) Submit(ctx context.Context, src domain.DataSource) (*domain.SubmitResult, error) {
	result := &domain.SubmitResult{SubTaskIDs: make(map[domain.Stage]string, len(domain.Stages))}

	collected, err := s.client.Collect(ctx, domain.BuildCollectorRequest(src), domain.WantsFileUpload(src))
	if err = chainStep(domain.StageCollection, collected, err); err != nil {
		return nil, err
	}
	result.SubTaskIDs[domain.StageCollection] = collected.TaskID

	processed, err := s.client.Process(ctx, collected.TaskID)
	if err = chainStep(domain.StageProcessing, processed, err); err != nil {
		return nil, err
	}
	result.SubTaskIDs[domain.StageProcessing] = processed.TaskID

	analyzed, err := s.client.Analyze(ctx, processed.TaskID)
	if err = chainStep(domain.StageAnalysis, analyzed, err); err != nil {
		return nil, err
	}
	result.SubTaskIDs[domain.StageAnalysis] = analyzed.TaskID

	dashboard, err := s.client.GenerateDashboard(ctx, analyzed.TaskID, true, true)
	if err = chainStep(domain.StageDashboard, dashboard, err); err != nil {
		return nil, err
	}
	result.SubTaskIDs[domain.StageDashboard] = dashboard.TaskID

	result.TaskID = dashboard.TaskID
	result.Status = dashboard.Status
	result.DashboardURL = dashboard.DashboardURL

	return result, nil
}

func chainStep(stage domain.Stage, resp *domain.PipelineResponse, err error) error {
	if err != nil {
		return fmt.Errorf("failed to start %s stage: %w", stage, err)
	}
	if resp == nil || resp.TaskID == "" {
		return fmt.Errorf("%s stage response has no task id", stage)
	}
	return nil
}
