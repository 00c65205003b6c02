package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/mo"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
	"github.com/jinford/feedback-flow/internal/platform/database"
)

const (
	// PostgreSQLのエラーコード
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	sourceColumns = `id, project_id, name, url, type, status, metadata, created_at, last_updated`
)

// Repository はデータソースとプロジェクトの永続化アダプターです
type Repository struct {
	pool *pgxpool.Pool
	tx   *database.TransactionProvider
}

// NewRepository は新しいリポジトリを作成します
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool: pool,
		tx:   database.NewTransactionProvider(pool),
	}
}

var _ domain.Repository = (*Repository)(nil)

// CreateDataSource はデータソースを作成し、保存された行を返します
func (r *Repository) CreateDataSource(ctx context.Context, params domain.CreateSourceParams) (*domain.DataSource, error) {
	metadata, err := MetadataToJSONB(params.Metadata)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO data_sources (id, project_id, name, url, type, status, metadata, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+sourceColumns,
		UUIDToPgtype(uuid.New()),
		UUIDPtrToPgtype(params.ProjectID),
		params.Name,
		params.URL,
		string(params.Type),
		string(params.Status),
		metadata,
		TimeToPgtype(now),
	)

	src, err := scanSource(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, fmt.Errorf("failed to create data source: %w", domain.ErrProjectNotFound)
		}
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}
	return src, nil
}

// GetDataSource はIDでデータソースを取得します
func (r *Repository) GetDataSource(ctx context.Context, id uuid.UUID) (mo.Option[*domain.DataSource], error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM data_sources WHERE id = $1`, UUIDToPgtype(id))
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*domain.DataSource](), nil
		}
		return mo.None[*domain.DataSource](), fmt.Errorf("failed to get data source: %w", err)
	}
	return mo.Some(src), nil
}

// ListDataSources は条件に一致するデータソースを新しい順に返します
func (r *Repository) ListDataSources(ctx context.Context, filter domain.SourceFilter) ([]*domain.DataSource, error) {
	query, args := buildListQuery(filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var sources []*domain.DataSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data sources: %w", err)
	}

	return sources, nil
}

func buildListQuery(filter domain.SourceFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ProjectID != nil {
		conds = append(conds, "project_id = "+arg(UUIDToPgtype(*filter.ProjectID)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+")")
	}
	if filter.Type != "" {
		conds = append(conds, "type = "+arg(string(filter.Type)))
	}

	var b strings.Builder
	b.WriteString("SELECT " + sourceColumns + " FROM data_sources")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if filter.OrderBy == domain.OrderByLastUpdated {
		b.WriteString(" ORDER BY last_updated DESC, name ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, name ASC")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + arg(filter.Limit))
	}

	return b.String(), args
}

// UpdateDataSource はステータスとメタデータを更新します
// 行ロック下で現在のステータスを確認し、後戻りする更新ではステータスを据え置きます
func (r *Repository) UpdateDataSource(ctx context.Context, params domain.UpdateSourceParams) (*domain.DataSource, error) {
	metadata, err := MetadataToJSONB(params.Metadata)
	if err != nil {
		return nil, err
	}
	lastUpdated := params.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	return database.Transact(ctx, r.tx, func(tx pgx.Tx) (*domain.DataSource, error) {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM data_sources WHERE id = $1 FOR UPDATE`, UUIDToPgtype(params.ID)).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrSourceNotFound
			}
			return nil, fmt.Errorf("failed to lock data source: %w", err)
		}

		status := params.Status
		if !domain.CanTransition(domain.Status(current), status) {
			status = domain.Status(current)
		}

		row := tx.QueryRow(ctx, `
			UPDATE data_sources
			SET status = $2, metadata = $3, last_updated = $4
			WHERE id = $1
			RETURNING `+sourceColumns,
			UUIDToPgtype(params.ID),
			string(status),
			metadata,
			TimeToPgtype(lastUpdated),
		)
		src, err := scanSource(row)
		if err != nil {
			return nil, fmt.Errorf("failed to update data source: %w", err)
		}
		return src, nil
	})
}

// DeleteDataSource はデータソースを削除します
func (r *Repository) DeleteDataSource(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM data_sources WHERE id = $1`, UUIDToPgtype(id))
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

func scanSource(row pgx.Row) (*domain.DataSource, error) {
	var (
		id          pgtype.UUID
		projectID   pgtype.UUID
		name        string
		url         string
		sourceType  string
		status      string
		metadata    []byte
		createdAt   pgtype.Timestamptz
		lastUpdated pgtype.Timestamptz
	)
	if err := row.Scan(&id, &projectID, &name, &url, &sourceType, &status, &metadata, &createdAt, &lastUpdated); err != nil {
		return nil, err
	}

	return &domain.DataSource{
		ID:          PgtypeToUUID(id),
		ProjectID:   PgtypeToUUIDPtr(projectID),
		Name:        name,
		URL:         url,
		Type:        domain.SourceType(sourceType),
		Status:      domain.Status(status),
		Metadata:    JSONBToMetadata(metadata),
		CreatedAt:   PgtypeToTime(createdAt),
		LastUpdated: PgtypeToTime(lastUpdated),
	}, nil
}
