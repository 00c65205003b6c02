package testing

import (
	"time"

	"github.com/google/uuid"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// TestProject はテスト用のProjectを生成します
func TestProject(name string) *domain.Project {
	return &domain.Project{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
	}
}

// TestDataSource はテスト用のDataSourceを生成します
func TestDataSource(name string, sourceType domain.SourceType, status domain.Status) *domain.DataSource {
	now := time.Now()
	return &domain.DataSource{
		ID:          uuid.New(),
		Name:        name,
		URL:         defaultURL(sourceType),
		Type:        sourceType,
		Status:      status,
		Metadata:    domain.Metadata{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// TestTrackedDataSource はタスクID付きで追跡可能なDataSourceを生成します
func TestTrackedDataSource(name string, taskID string, status domain.Status) *domain.DataSource {
	src := TestDataSource(name, domain.SourceTypeForum, status)
	src.Metadata.TaskID = taskID
	return src
}

// TestTaskStatus はテスト用のタスク状態レスポンスを生成します
func TestTaskStatus(taskID, status string, stage domain.Stage) *domain.TaskStatus {
	return &domain.TaskStatus{
		TaskID:       taskID,
		Status:       status,
		CurrentStage: stage,
	}
}

func defaultURL(sourceType domain.SourceType) string {
	switch sourceType {
	case domain.SourceTypeSocial:
		return "https://x.com/acme"
	case domain.SourceTypeReviews:
		return "https://www.trustpilot.com/review/acme.com"
	case domain.SourceTypeSurvey:
		return "https://acme.typeform.com/to/nps"
	default:
		return "https://forum.acme.com/t/launch"
	}
}
