package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSourceNotFound はデータソースが存在しない場合のエラー
	ErrSourceNotFound = errors.New("data source not found")

	// ErrProjectNotFound はプロジェクトが存在しない場合のエラー
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists は同名のプロジェクトが既に存在する場合のエラー
	ErrProjectExists = errors.New("project already exists")

	// ErrAlreadyTracking は同じジョブの追跡ループが既に動いている場合のエラー
	ErrAlreadyTracking = errors.New("data source is already being tracked")

	// ErrNoTaskID はリモートタスクIDが未登録で追跡できない場合のエラー
	ErrNoTaskID = errors.New("data source has no remote task id")

	// ErrInvalidTransition は現在の状態から指定の状態へ進められない場合のエラー
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSummarizerDisabled はAI要約が設定されていない場合のエラー
	ErrSummarizerDisabled = errors.New("summarizer is not configured")
)

// TimeoutMessage はタイムアウト時にレコードへ書き込む固定メッセージです
const TimeoutMessage = "pipeline tracking timed out"

// ValidationError は投入時の入力不備です。リモートには到達しません
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubmissionError はリモートが投入を拒否した、または到達できなかったことを表します
// レコードは作成済みで error 状態になっています
type SubmissionError struct {
	SourceID uuid.UUID
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed for %s: %v", e.SourceID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError は1回のポーリングの一時的な失敗です。ステータスは変更しません
type PollError struct {
	SourceID uuid.UUID
	Attempt  int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll attempt %d for %s failed: %v", e.Attempt, e.SourceID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// RemoteFailure はリモートが明示的に failed / error を返したことを表します
type RemoteFailure struct {
	SourceID uuid.UUID
	Message  string
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("pipeline failed for %s: %s", e.SourceID, e.Message)
}

// TimeoutError は上限に達しても終端状態にならなかったことを表します
type TimeoutError struct {
	SourceID uuid.UUID
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts (%s)", TimeoutMessage, e.SourceID, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// Err は追跡ループの終了理由をエラーとして返します
// 完了と取り消しは nil です
func (o *Outcome) Err() error {
	switch o.Result {
	case OutcomeFailed:
		return &RemoteFailure{SourceID: o.SourceID, Message: o.Message}
	case OutcomeTimedOut:
		return &TimeoutError{SourceID: o.SourceID, Attempts: o.Attempts, Elapsed: o.Elapsed}
	default:
		return nil
	}
}
