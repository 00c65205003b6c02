package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMetadata_JSONRoundTripKeepsUnknownKeys(t *testing.T) {
	raw := `{
		"project_id": "p-1",
		"pipeline_task_id": "t1",
		"collection_task_id": "c1",
		"sentiment_task_id": "s1",
		"collection_started_at": "2025-03-01T12:00:00Z",
		"hashtags": ["#launch"],
		"error_time": "not-a-time"
	}`

	var m domain.Metadata
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Equal(t, "p-1", m.ProjectID)
	assert.Equal(t, "t1", m.TaskID, "legacy pipeline_task_id is accepted as task id")
	assert.Equal(t, "c1", m.SubTaskID(domain.StageCollection))
	assert.Equal(t, "s1", m.SubTaskID(domain.Stage("sentiment")))
	assert.Equal(t, fixedNow, m.StageStartedAt[domain.StageCollection])
	assert.Equal(t, []any{"#launch"}, m.Extra["hashtags"])
	assert.Nil(t, m.ErrorTime)
	assert.Equal(t, "not-a-time", m.Extra["error_time"])

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "t1", back["task_id"])
	assert.Equal(t, "c1", back["collection_task_id"])
	assert.Equal(t, "s1", back["sentiment_task_id"])
	assert.Equal(t, []any{"#launch"}, back["hashtags"])
}

func TestMetadata_KeysWithoutStageStayInExtra(t *testing.T) {
	m := domain.NewMetadata(map[string]any{
		"_task_id":             "keep-me",
		"_started_at":          "2025-03-01T12:00:00Z",
		"processing_task_id":   "",
		"translate_started_at": "2025-03-01T12:00:00Z",
	})

	assert.Empty(t, m.SubTaskIDs)
	assert.Equal(t, fixedNow, m.StageStartedAt[domain.Stage("translate")])

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "keep-me", back["_task_id"])
	assert.Equal(t, "2025-03-01T12:00:00Z", back["_started_at"])
	assert.Equal(t, "", back["processing_task_id"])
	assert.Equal(t, "2025-03-01T12:00:00Z", back["translate_started_at"])
}

func TestParseMetadata(t *testing.T) {
	structured := map[string]any{"task_id": "t1", "platform": "Twitter"}
	serialized := `{"task_id":"t1","platform":"Twitter"}`
	doubleEncoded, err := json.Marshal(serialized)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  any
		want string
	}{
		{name: "map", raw: structured, want: "t1"},
		{name: "string", raw: serialized, want: "t1"},
		{name: "bytes", raw: []byte(serialized), want: "t1"},
		{name: "double encoded", raw: string(doubleEncoded), want: "t1"},
		{name: "garbage", raw: "{not json", want: ""},
		{name: "json array", raw: `[1,2]`, want: ""},
		{name: "nil", raw: nil, want: ""},
		{name: "unsupported", raw: 42, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := domain.ParseMetadata(tt.raw)
			assert.Equal(t, tt.want, m.TaskID)
		})
	}
}

func TestReconcile_MergesWithoutDroppingKeys(t *testing.T) {
	prev := domain.NewMetadata(map[string]any{"project_id": "p-1", "hashtags": []any{"#a"}})
	prev.TaskID = "t1"

	resp := domain.TaskStatus{
		TaskID:       "t1",
		Status:       "processing",
		CurrentStage: domain.StageProcessing,
		SubTaskIDs:   map[domain.Stage]string{domain.StageCollection: "c1", domain.StageProcessing: "p1"},
	}

	next := domain.Reconcile(prev, resp, fixedNow)

	assert.Equal(t, "p-1", next.ProjectID)
	assert.Equal(t, []any{"#a"}, next.Extra["hashtags"])
	assert.Equal(t, "c1", next.SubTaskID(domain.StageCollection))
	assert.Equal(t, "p1", next.SubTaskID(domain.StageProcessing))
	assert.Equal(t, domain.StageProcessing, next.CurrentStage)
	assert.Equal(t, fixedNow, next.StageStartedAt[domain.StageProcessing])

	assert.Empty(t, prev.SubTaskIDs, "previous metadata must not be mutated")
}

func TestReconcile_IsIdempotent(t *testing.T) {
	resp := domain.TaskStatus{
		TaskID:       "t1",
		Status:       "error",
		CurrentStage: domain.StageAnalysis,
		Message:      "analysis crashed",
	}

	first := domain.Reconcile(domain.Metadata{}, resp, fixedNow)
	second := domain.Reconcile(first, resp, fixedNow.Add(time.Minute))

	assert.True(t, first.Equal(second))
	assert.Equal(t, "analysis crashed", second.ErrorMessage)
	require.NotNil(t, second.ErrorTime)
	assert.Equal(t, fixedNow, *second.ErrorTime)
	assert.Equal(t, fixedNow, second.StageStartedAt[domain.StageAnalysis])
}

func TestReconcile_DisjointKeysAreOrderIndependent(t *testing.T) {
	base := domain.NewMetadata(map[string]any{"task_id": "t1"})
	a := domain.TaskStatus{SubTaskIDs: map[domain.Stage]string{domain.StageCollection: "c1"}}
	b := domain.TaskStatus{DashboardURL: "https://x/dash/t1", SubTaskIDs: map[domain.Stage]string{domain.StageDashboard: "d1"}}

	ab := domain.Reconcile(domain.Reconcile(base, a, fixedNow), b, fixedNow)
	ba := domain.Reconcile(domain.Reconcile(base, b, fixedNow), a, fixedNow)

	assert.True(t, ab.Equal(ba))
}

func TestReconcile_EmptyFieldsDoNotOverwrite(t *testing.T) {
	prev := domain.Metadata{TaskID: "t1", DashboardURL: "https://x/dash/t1"}

	next := domain.Reconcile(prev, domain.TaskStatus{Status: "completed"}, fixedNow)

	assert.Equal(t, "t1", next.TaskID)
	assert.Equal(t, "https://x/dash/t1", next.DashboardURL)
	require.NotNil(t, next.CompletedAt)
}
