package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus はリモート解析サービスのタスク状態レスポンスです
// *_task_id フィールドはパイプラインの進行に応じて段階的に現れます
type TaskStatus struct {
	TaskID       string
	Status       string
	CurrentStage Stage
	SubTaskIDs   map[Stage]string
	DashboardURL string
	Message      string
	Timestamp    string
}

// UnmarshalJSON は *_task_id を含む可変なレスポンスを解釈します
func (t *TaskStatus) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	str := func(key string) string {
		v, ok := raw[key]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return s
	}

	out := TaskStatus{
		TaskID:       str("task_id"),
		Status:       str("status"),
		CurrentStage: Stage(str("current_stage")),
		DashboardURL: str("dashboard_url"),
		Message:      str("message"),
		Timestamp:    str("timestamp"),
	}
	for key := range raw {
		stage := stagePrefix(key, taskIDSuffix)
		if key == keyTaskID || key == keyPipelineTaskID || stage == "" {
			continue
		}
		if id := str(key); id != "" {
			if out.SubTaskIDs == nil {
				out.SubTaskIDs = make(map[Stage]string)
			}
			out.SubTaskIDs[stage] = id
		}
	}

	*t = out
	return nil
}

// MarshalJSON はリモートと同じフラットな形式で出力します
func (t TaskStatus) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"task_id": t.TaskID,
		"status":  t.Status,
	}
	if t.CurrentStage != "" {
		out["current_stage"] = string(t.CurrentStage)
	}
	if t.DashboardURL != "" {
		out["dashboard_url"] = t.DashboardURL
	}
	if t.Message != "" {
		out["message"] = t.Message
	}
	if t.Timestamp != "" {
		out["timestamp"] = t.Timestamp
	}
	for stage, id := range t.SubTaskIDs {
		out[stage.TaskIDKey()] = id
	}
	return json.Marshal(out)
}

// SubmitResult はジョブ投入時にリモートから返された情報です
type SubmitResult struct {
	TaskID       string
	Status       string
	SubTaskIDs   map[Stage]string
	DashboardURL string
}

// PipelineRequest は統合パイプライン投入リクエストです
// config は { <sourceType>: { url, ...extra } } の形をとります
type PipelineRequest struct {
	SourceID string                    `json:"source_id"`
	Config   map[string]map[string]any `json:"config"`
}

// PipelineResponse は投入APIのレスポンスです
type PipelineResponse struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	DashboardURL string `json:"dashboard_url,omitempty"`
	Message      string `json:"message,omitempty"`
}

// CollectorRequest はコレクター直接投入（段階呼び出し版）のリクエストです
type CollectorRequest struct {
	SourceID string          `json:"source_id"`
	Config   CollectorConfig `json:"config"`
}

// CollectorConfig はコレクターへ渡す種別ごとの設定です
type CollectorConfig struct {
	Social *SocialCollectorConfig `json:"social,omitempty"`
	Review *ReviewCollectorConfig `json:"review,omitempty"`
	Survey *SurveyCollectorConfig `json:"survey,omitempty"`
	Forum  map[string]any         `json:"forum,omitempty"`
}

// SocialCollectorConfig はSNS収集設定です
type SocialCollectorConfig struct {
	Platform  string   `json:"platform"`
	Hashtags  []string `json:"hashtags"`
	DateRange string   `json:"date_range"`
}

// ReviewCollectorConfig はレビューサイト収集設定です
type ReviewCollectorConfig struct {
	Websites  []string `json:"websites"`
	DateRange string   `json:"date_range"`
}

// SurveyCollectorConfig はアンケート収集設定です
type SurveyCollectorConfig struct {
	FormID       string   `json:"form_id"`
	FilesDir     *string  `json:"files_dir"`
	APIEndpoints []string `json:"api_endpoints"`
}

// Dashboard は完了したジョブのダッシュボード表示内容です
type Dashboard struct {
	SourceID     uuid.UUID `json:"sourceID"`
	Status       Status    `json:"status"`
	TaskID       string    `json:"taskID,omitempty"`
	DashboardURL string    `json:"dashboardURL,omitempty"`
	HTML         string    `json:"html,omitempty"`
	KPIs         []KPI     `json:"kpis,omitempty"`
	Placeholder  string    `json:"placeholder,omitempty"`
}

// Ready はダッシュボード本体（HTML または KPI）があるかを返します
func (d *Dashboard) Ready() bool {
	return d.HTML != "" || len(d.KPIs) > 0
}

// KPI はレポートの指標1件です
type KPI struct {
	Name        string     `json:"name"`
	Value       any        `json:"value"`
	Description string     `json:"description,omitempty"`
	Change      *KPIChange `json:"change,omitempty"`
}

// KPIChange は指標の変化量です
type KPIChange struct {
	Value     any    `json:"value"`
	Direction string `json:"direction"`
}

// Report は /report/{task_id} の構造化レポートです
type Report struct {
	KPIs []KPI `json:"kpis"`
}

// DashboardContent はダッシュボード取得APIの結果です
// サーバー設定によって HTML または JSON が返るため両方を保持します
type DashboardContent struct {
	ContentType string
	HTML        string
	KPIs        []KPI
}

// SummaryInput はAI要約の入力です
type SummaryInput struct {
	SourceName string
	SourceType SourceType
	KPIs       []KPI
	Dashboard  string
}

// Outcome は追跡ループの終了理由です
type Outcome struct {
	SourceID     uuid.UUID     `json:"sourceID"`
	Result       OutcomeResult `json:"result"`
	Status       Status        `json:"status"`
	Attempts     int           `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
	DashboardURL string        `json:"dashboardURL,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// OutcomeResult は追跡ループの終了種別です
type OutcomeResult string

const (
	OutcomeCompleted OutcomeResult = "completed"
	OutcomeFailed    OutcomeResult = "failed"
	OutcomeTimedOut  OutcomeResult = "timed_out"
	OutcomeCancelled OutcomeResult = "cancelled"
)
