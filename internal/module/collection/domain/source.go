package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// === DataSource集約: DataSource（ルート）+ Project ===

// DataSource はフィードバック収集ジョブ1件分のレコードを表します
type DataSource struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   *uuid.UUID `json:"projectID,omitempty"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Type        SourceType `json:"type"`
	Status      Status     `json:"status"`
	Metadata    Metadata   `json:"metadata"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Project はデータソースを束ねるプロジェクトを表します
type Project struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProjectWithSources はプロジェクトと所属データソースの組です
type ProjectWithSources struct {
	Project
	Sources []*DataSource `json:"sources"`
}

// SourceType はデータソースの種別を表します
type SourceType string

const (
	SourceTypeForum   SourceType = "forum"
	SourceTypeSocial  SourceType = "social"
	SourceTypeReviews SourceType = "reviews"
	SourceTypeSurvey  SourceType = "survey"
	SourceTypeWebsite SourceType = "website"
)

// SourceTypes は有効なソース種別の一覧です
var SourceTypes = []SourceType{
	SourceTypeForum,
	SourceTypeSocial,
	SourceTypeReviews,
	SourceTypeSurvey,
	SourceTypeWebsite,
}

// ParseSourceType は文字列をSourceTypeに変換します
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range SourceTypes {
		if st == valid {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown source type: %q", s)
}

// Status はジョブのライフサイクル段階を表します
// リモートのステージ語彙とローカルのステータス語彙は同一です
type Status string

const (
	StatusPending    Status = "pending"
	StatusCollecting Status = "collecting"
	StatusProcessing Status = "processing"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// remoteStatusFailed はリモート側だけが使う失敗ステータスです
const remoteStatusFailed = "failed"

// ParseStatus は永続化されたステータス文字列を検証します
func ParseStatus(s string) (Status, error) {
	st, ok := ParseRemoteStatus(s)
	if !ok {
		return "", fmt.Errorf("unknown status: %q", s)
	}
	return st, nil
}

// ParseRemoteStatus はリモートのステータスをローカルのステータスに写像します
// 恒等写像で、failed のみ error に寄せます
func ParseRemoteStatus(s string) (Status, bool) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case remoteStatusFailed:
		return StatusError, true
	case string(StatusPending), string(StatusCollecting), string(StatusProcessing),
		string(StatusAnalyzing), string(StatusCompleted), string(StatusError):
		return Status(v), true
	default:
		return "", false
	}
}

// IsTerminal は終端状態（completed / error）かどうかを返します
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Rank はステータスの前後関係を返します
// error はどの段階からでも到達できるため最大値とします
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusCollecting:
		return 1
	case StatusProcessing:
		return 2
	case StatusAnalyzing:
		return 3
	case StatusCompleted, StatusError:
		return 4
	default:
		return -1
	}
}

// CanTransition は from から to への遷移が許されるかを判定します
// 同じ状態の再観測は許可（冪等）、後戻りと終端からの遷移は不可
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() || to.Rank() < 0 {
		return false
	}
	if to == StatusError {
		return true
	}
	return to.Rank() > from.Rank()
}

// AdvanceAction は手動でジョブの状態を進める操作です
type AdvanceAction string

const (
	AdvanceCollect  AdvanceAction = "collect"
	AdvanceProcess  AdvanceAction = "process"
	AdvanceAnalyze  AdvanceAction = "analyze"
	AdvanceComplete AdvanceAction = "complete"
)

// ParseAdvanceAction は操作名を解釈し、遷移先の状態を返します
func ParseAdvanceAction(s string) (AdvanceAction, Status, error) {
	switch action := AdvanceAction(strings.ToLower(strings.TrimSpace(s))); action {
	case AdvanceCollect:
		return action, StatusCollecting, nil
	case AdvanceProcess:
		return action, StatusProcessing, nil
	case AdvanceAnalyze:
		return action, StatusAnalyzing, nil
	case AdvanceComplete:
		return action, StatusCompleted, nil
	default:
		return "", "", &ValidationError{Field: "action", Reason: "must be one of collect, process, analyze, complete"}
	}
}

// Stage はリモートパイプライン内部のステージ名です
type Stage string

const (
	StageCollection Stage = "collection"
	StageProcessing Stage = "processing"
	StageAnalysis   Stage = "analysis"
	StageDashboard  Stage = "dashboard"
)

// Stages はパイプラインの実行順です
var Stages = []Stage{StageCollection, StageProcessing, StageAnalysis, StageDashboard}

// TaskIDKey はメタデータ上のサブタスクIDのキーを返します
func (s Stage) TaskIDKey() string {
	return string(s) + taskIDSuffix
}

// StartedAtKey はメタデータ上のステージ開始時刻のキーを返します
func (s Stage) StartedAtKey() string {
	return string(s) + startedAtSuffix
}

// ChangeOp はレコードストアの変更種別です
type ChangeOp string

const (
	ChangeOpInsert ChangeOp = "INSERT"
	ChangeOpUpdate ChangeOp = "UPDATE"
	ChangeOpDelete ChangeOp = "DELETE"
)

// ChangeEvent はデータソーステーブルの変更通知です
type ChangeEvent struct {
	Op       ChangeOp  `json:"op"`
	SourceID uuid.UUID `json:"id"`
	Status   Status    `json:"status,omitempty"`
}

// SourceFilter はデータソース一覧取得時の条件です
type SourceFilter struct {
	ProjectID *uuid.UUID
	Statuses  []Status
	Type      SourceType
	OrderBy   SourceOrder
	Limit     int
}

// SourceOrder は一覧の並び順です
type SourceOrder string

const (
	OrderByCreatedAt   SourceOrder = "created_at"
	OrderByLastUpdated SourceOrder = "last_updated"
)
