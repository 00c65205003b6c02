package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ChangeChannel はデータソース変更通知のチャンネル名です
const ChangeChannel = "data_source_changes"

//go:embed schema.sql
var schemaSQL string

// Migrate はスキーマを適用します。何度実行しても同じ結果になります
// 複数プロセスの同時起動に備えてアドバイザリロックで直列化します
func Migrate(ctx context.Context, db *DB) error {
	_, err := Transact(ctx, NewTransactionProvider(db.Pool), func(tx pgx.Tx) (struct{}, error) {
		if err := AcquireXact(ctx, tx, GenerateLockID("feedback-flow", "schema")); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return struct{}{}, fmt.Errorf("failed to apply schema: %w", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
