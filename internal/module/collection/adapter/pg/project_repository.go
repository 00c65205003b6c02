package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

const projectColumns = `id, name, description, created_at`

// CreateProject はプロジェクトを作成します
func (r *Repository) CreateProject(ctx context.Context, name string, description *string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO projects (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+projectColumns,
		UUIDToPgtype(uuid.New()),
		name,
		StringPtrToPgtext(description),
		TimeToPgtype(time.Now().UTC()),
	)

	project, err := scanProject(row)
	if err != nil {
		// PostgreSQLのユニーク制約違反エラー（23505）をチェック
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("failed to create project: %w", domain.ErrProjectExists)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// GetProject はIDでプロジェクトを取得します
func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (mo.Option[*domain.Project], error) {
	row := r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, UUIDToPgtype(id))
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*domain.Project](), nil
		}
		return mo.None[*domain.Project](), fmt.Errorf("failed to get project: %w", err)
	}
	return mo.Some(project), nil
}

// ListProjects はプロジェクトを作成順に返します
func (r *Repository) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	return projects, nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		id          pgtype.UUID
		name        string
		description pgtype.Text
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &name, &description, &createdAt); err != nil {
		return nil, err
	}
	return &domain.Project{
		ID:          PgtypeToUUID(id),
		Name:        name,
		Description: PgtextToStringPtr(description),
		CreatedAt:   PgtypeToTime(createdAt),
	}, nil
}
