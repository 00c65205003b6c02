package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// === Record Store Port ===

// Repository はデータソースとプロジェクトの永続化ポートです
// テスト時のモック用に消費者側で定義
type Repository interface {
	SourceRepository
	ProjectRepository
}

// SourceRepository はデータソース（ジョブレコード）の永続化ポートです
type SourceRepository interface {
	CreateDataSource(ctx context.Context, params CreateSourceParams) (*DataSource, error)
	GetDataSource(ctx context.Context, id uuid.UUID) (mo.Option[*DataSource], error)
	ListDataSources(ctx context.Context, filter SourceFilter) ([]*DataSource, error)
	UpdateDataSource(ctx context.Context, params UpdateSourceParams) (*DataSource, error)
	DeleteDataSource(ctx context.Context, id uuid.UUID) error
}

// ProjectRepository はプロジェクトの永続化ポートです
type ProjectRepository interface {
	CreateProject(ctx context.Context, name string, description *string) (*Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (mo.Option[*Project], error)
	ListProjects(ctx context.Context) ([]*Project, error)
}

// CreateSourceParams はデータソース作成の入力です
type CreateSourceParams struct {
	ProjectID *uuid.UUID
	Name      string
	URL       string
	Type      SourceType
	Status    Status
	Metadata  Metadata
}

// UpdateSourceParams はステータスとメタデータの更新入力です
// レコードの書き手は追跡ループのみのため、フィールド単位の後勝ちで更新します
type UpdateSourceParams struct {
	ID          uuid.UUID
	Status      Status
	Metadata    Metadata
	LastUpdated time.Time
}

// UpdateParamsFrom はレコードから更新入力を作ります
func UpdateParamsFrom(src DataSource) UpdateSourceParams {
	return UpdateSourceParams{
		ID:          src.ID,
		Status:      src.Status,
		Metadata:    src.Metadata,
		LastUpdated: src.LastUpdated,
	}
}

// ChangeNotifier はレコードストアの変更通知ポートです
// Listen は ctx が終了するまでブロックします
type ChangeNotifier interface {
	Listen(ctx context.Context, handle func(ChangeEvent)) error
}

// Locker はプロセスをまたいだ追跡ループの重複を防ぐポートです
type Locker interface {
	TryLock(ctx context.Context, id uuid.UUID) (unlock func(), ok bool, err error)
}
