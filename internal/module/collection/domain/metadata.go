package domain

import (
	"encoding/json"
	"maps"
	"strings"
	"time"
)

const (
	taskIDSuffix    = "_task_id"
	startedAtSuffix = "_started_at"

	keyProjectID       = "project_id"
	keyTaskID          = "task_id"
	keyPipelineTaskID  = "pipeline_task_id"
	keyDashboardURL    = "dashboard_url"
	keyCurrentStage    = "current_stage"
	keyPipelineStarted = "pipeline_started"
	keyCompletedAt     = "completed_at"
	keyErrorMessage    = "error_message"
	keyErrorTime       = "error_time"
)

// Metadata はデータソースに蓄積されるパイプライン情報です
// 既知のキーは型付きフィールドに、それ以外は Extra に保持します
// JSON 表現はフラットな1オブジェクトです
type Metadata struct {
	ProjectID       string
	TaskID          string
	SubTaskIDs      map[Stage]string
	DashboardURL    string
	CurrentStage    Stage
	PipelineStarted *time.Time
	StageStartedAt  map[Stage]time.Time
	CompletedAt     *time.Time
	ErrorMessage    string
	ErrorTime       *time.Time

	// Extra はユーザー指定の収集オプションなど、予測できないキーを保持します
	Extra map[string]any
}

// MarshalJSON はフラットなJSONオブジェクトに変換します
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.toMap())
}

// UnmarshalJSON はフラットなJSONオブジェクトから復元します
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = fromMap(raw)
	return nil
}

func (m Metadata) toMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+8)
	maps.Copy(out, m.Extra)

	setString := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	setTime := func(key string, value *time.Time) {
		if value != nil {
			out[key] = value.UTC().Format(time.RFC3339Nano)
		}
	}

	setString(keyProjectID, m.ProjectID)
	setString(keyTaskID, m.TaskID)
	setString(keyDashboardURL, m.DashboardURL)
	setString(keyCurrentStage, string(m.CurrentStage))
	setString(keyErrorMessage, m.ErrorMessage)
	setTime(keyPipelineStarted, m.PipelineStarted)
	setTime(keyCompletedAt, m.CompletedAt)
	setTime(keyErrorTime, m.ErrorTime)

	for stage, id := range m.SubTaskIDs {
		setString(stage.TaskIDKey(), id)
	}
	for stage, at := range m.StageStartedAt {
		setTime(stage.StartedAtKey(), &at)
	}

	return out
}

func fromMap(raw map[string]any) Metadata {
	var m Metadata
	var legacyTaskID string

	for key, value := range raw {
		str, isString := value.(string)

		switch {
		case key == keyProjectID && isString:
			m.ProjectID = str
		case key == keyTaskID && isString:
			m.TaskID = str
		case key == keyPipelineTaskID && isString:
			legacyTaskID = str
		case key == keyDashboardURL && isString:
			m.DashboardURL = str
		case key == keyCurrentStage && isString:
			m.CurrentStage = Stage(str)
		case key == keyErrorMessage && isString:
			m.ErrorMessage = str
		case key == keyPipelineStarted && isString && parseTime(str) != nil:
			m.PipelineStarted = parseTime(str)
		case key == keyCompletedAt && isString && parseTime(str) != nil:
			m.CompletedAt = parseTime(str)
		case key == keyErrorTime && isString && parseTime(str) != nil:
			m.ErrorTime = parseTime(str)
		case isString && str != "" && stagePrefix(key, taskIDSuffix) != "":
			m.setSubTaskID(stagePrefix(key, taskIDSuffix), str)
		case isString && stagePrefix(key, startedAtSuffix) != "" && parseTime(str) != nil:
			m.setStageStarted(stagePrefix(key, startedAtSuffix), *parseTime(str))
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[key] = value
		}
	}

	if m.TaskID == "" {
		m.TaskID = legacyTaskID
	}

	return m
}

func parseTime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// stagePrefix は "<stage><suffix>" 形式のキーからステージ名を取り出します
// ステージ名が空の場合は "" を返し、キーは Extra に残します
func stagePrefix(key, suffix string) Stage {
	stage, ok := strings.CutSuffix(key, suffix)
	if !ok {
		return ""
	}
	return Stage(stage)
}

func (m *Metadata) setSubTaskID(stage Stage, id string) {
	if stage == "" || id == "" {
		return
	}
	if m.SubTaskIDs == nil {
		m.SubTaskIDs = make(map[Stage]string)
	}
	m.SubTaskIDs[stage] = id
}

func (m *Metadata) setStageStarted(stage Stage, at time.Time) {
	if m.StageStartedAt == nil {
		m.StageStartedAt = make(map[Stage]time.Time)
	}
	m.StageStartedAt[stage] = at
}

// Clone はマップを含めて複製します
func (m Metadata) Clone() Metadata {
	out := m
	out.SubTaskIDs = maps.Clone(m.SubTaskIDs)
	out.StageStartedAt = maps.Clone(m.StageStartedAt)
	out.Extra = maps.Clone(m.Extra)
	out.PipelineStarted = cloneTime(m.PipelineStarted)
	out.CompletedAt = cloneTime(m.CompletedAt)
	out.ErrorTime = cloneTime(m.ErrorTime)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Equal は2つのメタデータがJSON表現として等しいかを判定します
func (m Metadata) Equal(other Metadata) bool {
	a, errA := m.MarshalJSON()
	b, errB := other.MarshalJSON()
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// SubTaskID はステージのサブタスクIDを返します
func (m Metadata) SubTaskID(stage Stage) string {
	return m.SubTaskIDs[stage]
}

// NewMetadata はユーザー指定の自由形式メタデータから Metadata を作成します
func NewMetadata(user map[string]any) Metadata {
	if len(user) == 0 {
		return Metadata{}
	}
	return fromMap(user)
}

// ParseMetadata は保存済みメタデータを構造化します
// 文字列としてシリアライズされた値も受け付け、解析できない場合は空として扱います
func ParseMetadata(raw any) Metadata {
	switch v := raw.(type) {
	case nil:
		return Metadata{}
	case Metadata:
		return v.Clone()
	case *Metadata:
		if v == nil {
			return Metadata{}
		}
		return v.Clone()
	case map[string]any:
		return fromMap(v)
	case json.RawMessage:
		return parseMetadataBytes([]byte(v), 0)
	case []byte:
		return parseMetadataBytes(v, 0)
	case string:
		return parseMetadataBytes([]byte(v), 0)
	default:
		return Metadata{}
	}
}

// maxMetadataDecodeDepth は二重エンコードされた文字列を剥がす上限です
const maxMetadataDecodeDepth = 3

func parseMetadataBytes(data []byte, depth int) Metadata {
	if depth > maxMetadataDecodeDepth || len(data) == 0 {
		return Metadata{}
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Metadata{}
	}

	switch v := raw.(type) {
	case map[string]any:
		return fromMap(v)
	case string:
		return parseMetadataBytes([]byte(v), depth+1)
	default:
		return Metadata{}
	}
}

// Reconcile は直前のメタデータと新たに観測したタスク状態から次のメタデータを作る純粋関数です
// 応答に含まれる空でないフィールドだけを上書き・追加し、それ以外のキーはそのまま残します
func Reconcile(prev Metadata, resp TaskStatus, now time.Time) Metadata {
	next := prev.Clone()

	if resp.TaskID != "" {
		next.TaskID = resp.TaskID
	}
	for stage, id := range resp.SubTaskIDs {
		next.setSubTaskID(stage, id)
	}
	if resp.DashboardURL != "" {
		next.DashboardURL = resp.DashboardURL
	}
	if resp.CurrentStage != "" {
		next.CurrentStage = resp.CurrentStage
		if _, seen := next.StageStartedAt[resp.CurrentStage]; !seen {
			next.setStageStarted(resp.CurrentStage, now)
		}
	}

	status, ok := ParseRemoteStatus(resp.Status)
	if !ok {
		return next
	}

	switch status {
	case StatusCompleted:
		if next.CompletedAt == nil {
			next.CompletedAt = cloneTime(&now)
		}
	case StatusError:
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		if next.ErrorMessage != msg {
			next = next.WithError(msg, now)
		}
	}

	return next
}

// WithError はエラー情報を追記したメタデータを返します
func (m Metadata) WithError(msg string, now time.Time) Metadata {
	next := m.Clone()
	next.ErrorMessage = msg
	next.ErrorTime = cloneTime(&now)
	return next
}

// WithSubmission は投入結果（タスクID等）を追記したメタデータを返します
func (m Metadata) WithSubmission(res SubmitResult, now time.Time) Metadata {
	next := m.Clone()
	if res.TaskID != "" {
		next.TaskID = res.TaskID
	}
	for stage, id := range res.SubTaskIDs {
		next.setSubTaskID(stage, id)
	}
	if res.DashboardURL != "" {
		next.DashboardURL = res.DashboardURL
	}
	if next.PipelineStarted == nil {
		next.PipelineStarted = cloneTime(&now)
	}
	return next
}
