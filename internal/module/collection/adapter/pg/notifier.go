package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
	"github.com/jinford/feedback-flow/internal/platform/database"
)

// Notifier は LISTEN/NOTIFY でデータソースの変更を受け取ります
type Notifier struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger
}

// NotifierOption はNotifierの設定オプション
type NotifierOption func(*Notifier)

// WithNotifierLogger はロガーを設定します
func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithNotifierChannel は購読するチャンネル名を設定します
func WithNotifierChannel(channel string) NotifierOption {
	return func(n *Notifier) {
		n.channel = channel
	}
}

// NewNotifier は新しいNotifierを作成します
func NewNotifier(pool *pgxpool.Pool, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		pool:    pool,
		channel: database.ChangeChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var _ domain.ChangeNotifier = (*Notifier)(nil)

// Listen は ctx が終了するまで変更通知を handle に渡します
// 通知専用にプールから1接続を占有します
func (n *Notifier) Listen(ctx context.Context, handle func(domain.ChangeEvent)) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{n.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.channel, err)
	}
	n.logger.Info("Listening for data source changes", "channel", n.channel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to wait for notification: %w", err)
		}

		event, err := ParseChangeEvent(notification.Payload)
		if err != nil {
			n.logger.Warn("Ignoring malformed change notification", "payload", notification.Payload, "error", err)
			continue
		}
		handle(event)
	}
}

// ParseChangeEvent はトリガーが送るJSONペイロードを解釈します
func ParseChangeEvent(payload string) (domain.ChangeEvent, error) {
	var event domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	switch event.Op {
	case domain.ChangeOpInsert, domain.ChangeOpUpdate, domain.ChangeOpDelete:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("unknown change op: %q", event.Op)
	}
	return event, nil
}
