package pg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

const (
	defaultLeaseTTL = time.Minute
	lockTimeout     = 5 * time.Second
)

// Locker は tracker_leases テーブルのリースで追跡ループの重複を防ぎます
// リースは TTL の 1/3 ごとに延長し、プロセスが落ちた場合は TTL 経過後に他のプロセスが取得できます
// 接続はクエリごとに借りるだけで、ロック保持中も占有しません
type Locker struct {
	pool   *pgxpool.Pool
	ttl    time.Duration
	logger *slog.Logger
}

// LockerOption はLockerの設定オプション
type LockerOption func(*Locker)

// WithLockerLogger はロガーを設定します
func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(l *Locker) {
		l.logger = logger
	}
}

// WithLeaseTTL はリースの有効期間を設定します
func WithLeaseTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewLocker は新しいLockerを作成します
func NewLocker(pool *pgxpool.Pool, opts ...LockerOption) *Locker {
	l := &Locker{
		pool:   pool,
		ttl:    defaultLeaseTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ domain.Locker = (*Locker)(nil)

// TryLock はリースの取得を試みます。有効なリースを他の保持者が持っている場合は ok=false を返します
func (l *Locker) TryLock(ctx context.Context, id uuid.UUID) (func(), bool, error) {
	holder := uuid.New()

	acquireCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	var got pgtype.UUID
	err := l.pool.QueryRow(acquireCtx, `
		INSERT INTO tracker_leases (source_id, holder, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3::double precision))
		ON CONFLICT (source_id) DO UPDATE
			SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
			WHERE tracker_leases.expires_at < now()
		RETURNING holder`,
		UUIDToPgtype(id), UUIDToPgtype(holder), l.ttl.Seconds(),
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire tracker lease: %w", err)
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.renew(renewCtx, id, holder)
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			stopRenew()
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
			defer cancel()
			if _, err := l.pool.Exec(ctx,
				"DELETE FROM tracker_leases WHERE source_id = $1 AND holder = $2",
				UUIDToPgtype(id), UUIDToPgtype(holder),
			); err != nil {
				// 削除できなくても TTL 経過後に失効する
				l.logger.Warn("Failed to release tracker lease", "sourceID", id, "error", err)
			}
		})
	}

	return unlock, true, nil
}

// renew は ctx が終了するまでリースを延長し続けます
func (l *Locker) renew(ctx context.Context, id, holder uuid.UUID) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		renewCtx, cancel := context.WithTimeout(ctx, lockTimeout)
		tag, err := l.pool.Exec(renewCtx,
			"UPDATE tracker_leases SET expires_at = now() + make_interval(secs => $3::double precision) WHERE source_id = $1 AND holder = $2",
			UUIDToPgtype(id), UUIDToPgtype(holder), l.ttl.Seconds(),
		)
		cancel()

		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			l.logger.Warn("Failed to renew tracker lease", "sourceID", id, "error", err)
		case tag.RowsAffected() == 0:
			l.logger.Warn("Tracker lease was lost", "sourceID", id)
			return
		}
	}
}
