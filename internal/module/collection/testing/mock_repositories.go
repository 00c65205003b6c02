package testing

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// MockRepository はテスト用のモックRepositoryです
type MockRepository struct {
	CreateDataSourceFunc func(ctx context.Context, params domain.CreateSourceParams) (*domain.DataSource, error)
	GetDataSourceFunc    func(ctx context.Context, id uuid.UUID) (mo.Option[*domain.DataSource], error)
	ListDataSourcesFunc  func(ctx context.Context, filter domain.SourceFilter) ([]*domain.DataSource, error)
	UpdateDataSourceFunc func(ctx context.Context, params domain.UpdateSourceParams) (*domain.DataSource, error)
	DeleteDataSourceFunc func(ctx context.Context, id uuid.UUID) error
	CreateProjectFunc    func(ctx context.Context, name string, description *string) (*domain.Project, error)
	GetProjectFunc       func(ctx context.Context, id uuid.UUID) (mo.Option[*domain.Project], error)
	ListProjectsFunc     func(ctx context.Context) ([]*domain.Project, error)
}

var _ domain.Repository = (*MockRepository)(nil)

func (m *MockRepository) CreateDataSource(ctx context.Context, params domain.CreateSourceParams) (*domain.DataSource, error) {
	if m.CreateDataSourceFunc != nil {
		return m.CreateDataSourceFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockRepository) GetDataSource(ctx context.Context, id uuid.UUID) (mo.Option[*domain.DataSource], error) {
	if m.GetDataSourceFunc != nil {
		return m.GetDataSourceFunc(ctx, id)
	}
	return mo.None[*domain.DataSource](), nil
}

func (m *MockRepository) ListDataSources(ctx context.Context, filter domain.SourceFilter) ([]*domain.DataSource, error) {
	if m.ListDataSourcesFunc != nil {
		return m.ListDataSourcesFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockRepository) UpdateDataSource(ctx context.Context, params domain.UpdateSourceParams) (*domain.DataSource, error) {
	if m.UpdateDataSourceFunc != nil {
		return m.UpdateDataSourceFunc(ctx, params)
	}
	return nil, nil
}

func (m *MockRepository) DeleteDataSource(ctx context.Context, id uuid.UUID) error {
	if m.DeleteDataSourceFunc != nil {
		return m.DeleteDataSourceFunc(ctx, id)
	}
	return nil
}

func (m *MockRepository) CreateProject(ctx context.Context, name string, description *string) (*domain.Project, error) {
	if m.CreateProjectFunc != nil {
		return m.CreateProjectFunc(ctx, name, description)
	}
	return nil, nil
}

func (m *MockRepository) GetProject(ctx context.Context, id uuid.UUID) (mo.Option[*domain.Project], error) {
	if m.GetProjectFunc != nil {
		return m.GetProjectFunc(ctx, id)
	}
	return mo.None[*domain.Project](), nil
}

func (m *MockRepository) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	if m.ListProjectsFunc != nil {
		return m.ListProjectsFunc(ctx)
	}
	return nil, nil
}

// MemoryRepository はテスト用のインメモリRepositoryです
// 更新回数を記録し、追跡ループの書き込みを検証できます
type MemoryRepository struct {
	mu       sync.Mutex
	sources  map[uuid.UUID]domain.DataSource
	projects map[uuid.UUID]domain.Project
	updates  map[uuid.UUID]int

	// UpdateErr が設定されている場合、UpdateDataSource はこのエラーを返します
	UpdateErr error
	// UpdateErrs は先頭から1つずつ UpdateDataSource の結果として返します
	UpdateErrs []error
}

var _ domain.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository は初期データ付きのMemoryRepositoryを作成します
func NewMemoryRepository(sources ...*domain.DataSource) *MemoryRepository {
	repo := &MemoryRepository{
		sources:  make(map[uuid.UUID]domain.DataSource),
		projects: make(map[uuid.UUID]domain.Project),
		updates:  make(map[uuid.UUID]int),
	}
	for _, src := range sources {
		repo.Put(src)
	}
	return repo
}

// Put はレコードをそのまま保存します
func (r *MemoryRepository) Put(src *domain.DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *src
	clone.Metadata = src.Metadata.Clone()
	r.sources[src.ID] = clone
}

// PutProject はプロジェクトをそのまま保存します
func (r *MemoryRepository) PutProject(project *domain.Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[project.ID] = *project
}

// Source は保存済みレコードを返します
func (r *MemoryRepository) Source(id uuid.UUID) (domain.DataSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[id]
	return src, ok
}

// Updates はレコードの更新回数を返します
func (r *MemoryRepository) Updates(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[id]
}

func (r *MemoryRepository) CreateDataSource(ctx context.Context, params domain.CreateSourceParams) (*domain.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	src := domain.DataSource{
		ID:          uuid.New(),
		ProjectID:   params.ProjectID,
		Name:        params.Name,
		URL:         params.URL,
		Type:        params.Type,
		Status:      params.Status,
		Metadata:    params.Metadata.Clone(),
		CreatedAt:   now,
		LastUpdated: now,
	}
	r.sources[src.ID] = src
	return &src, nil
}

func (r *MemoryRepository) GetDataSource(ctx context.Context, id uuid.UUID) (mo.Option[*domain.DataSource], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return mo.None[*domain.DataSource](), nil
	}
	src.Metadata = src.Metadata.Clone()
	return mo.Some(&src), nil
}

func (r *MemoryRepository) ListDataSources(ctx context.Context, filter domain.SourceFilter) ([]*domain.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.DataSource, 0, len(r.sources))
	for _, src := range r.sources {
		if filter.ProjectID != nil && (src.ProjectID == nil || *src.ProjectID != *filter.ProjectID) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, src.Status) {
			continue
		}
		if filter.Type != "" && src.Type != filter.Type {
			continue
		}
		clone := src
		clone.Metadata = src.Metadata.Clone()
		out = append(out, &clone)
	}

	slices.SortFunc(out, func(a, b *domain.DataSource) int {
		if filter.OrderBy == domain.OrderByLastUpdated {
			return b.LastUpdated.Compare(a.LastUpdated)
		}
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.Name, b.Name))
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdateDataSource(ctx context.Context, params domain.UpdateSourceParams) (*domain.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.UpdateErrs) > 0 {
		err := r.UpdateErrs[0]
		r.UpdateErrs = r.UpdateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if r.UpdateErr != nil {
		return nil, r.UpdateErr
	}

	src, ok := r.sources[params.ID]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	src.Status = params.Status
	src.Metadata = params.Metadata.Clone()
	src.LastUpdated = params.LastUpdated
	r.sources[params.ID] = src
	r.updates[params.ID]++

	out := src
	out.Metadata = src.Metadata.Clone()
	return &out, nil
}

func (r *MemoryRepository) DeleteDataSource(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[id]; !ok {
		return domain.ErrSourceNotFound
	}
	delete(r.sources, id)
	return nil
}

func (r *MemoryRepository) CreateProject(ctx context.Context, name string, description *string) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.projects {
		if existing.Name == name {
			return nil, fmt.Errorf("failed to create project: %w", domain.ErrProjectExists)
		}
	}

	project := domain.Project{ID: uuid.New(), Name: name, Description: description, CreatedAt: time.Now()}
	r.projects[project.ID] = project
	return &project, nil
}

func (r *MemoryRepository) GetProject(ctx context.Context, id uuid.UUID) (mo.Option[*domain.Project], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	project, ok := r.projects[id]
	if !ok {
		return mo.None[*domain.Project](), nil
	}
	return mo.Some(&project), nil
}

func (r *MemoryRepository) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Project, 0, len(r.projects))
	for _, project := range r.projects {
		p := project
		out = append(out, &p)
	}
	slices.SortFunc(out, func(a, b *domain.Project) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}
