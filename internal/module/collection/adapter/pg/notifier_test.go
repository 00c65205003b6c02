package pg

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

func TestParseChangeEvent(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		payload string
		want    domain.ChangeEvent
		wantErr bool
	}{
		{
			name:    "update",
			payload: `{"op":"UPDATE","id":"` + id.String() + `","status":"analyzing"}`,
			want:    domain.ChangeEvent{Op: domain.ChangeOpUpdate, SourceID: id, Status: domain.StatusAnalyzing},
		},
		{
			name:    "delete",
			payload: `{"op":"DELETE","id":"` + id.String() + `","status":"collecting"}`,
			want:    domain.ChangeEvent{Op: domain.ChangeOpDelete, SourceID: id, Status: domain.StatusCollecting},
		},
		{
			name:    "unknown op",
			payload: `{"op":"TRUNCATE","id":"` + id.String() + `"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `changed`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChangeEvent(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildListQuery(t *testing.T) {
	projectID := uuid.New()

	query, args := buildListQuery(domain.SourceFilter{
		ProjectID: &projectID,
		Statuses:  []domain.Status{domain.StatusCompleted},
		Type:      domain.SourceTypeSurvey,
		OrderBy:   domain.OrderByLastUpdated,
		Limit:     1,
	})

	assert.Contains(t, query, "WHERE project_id = $1 AND status = ANY($2) AND type = $3")
	assert.Contains(t, query, "ORDER BY last_updated DESC")
	assert.Contains(t, query, "LIMIT $4")
	require.Len(t, args, 4)
	assert.Equal(t, []string{"completed"}, args[1])
	assert.Equal(t, "survey", args[2])
	assert.Equal(t, 1, args[3])

	query, args = buildListQuery(domain.SourceFilter{})
	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "ORDER BY created_at DESC")
	assert.Empty(t, args)
}
