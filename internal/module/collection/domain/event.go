package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType はジョブ処理中に発行されるイベントの分類です
type EventType string

const (
	EventTypeSubmitted EventType = "submitted"
	EventTypeStatus    EventType = "status"
	EventTypeStage     EventType = "stage"
	EventTypePollError EventType = "poll_error"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
	EventTypeTimeout   EventType = "timeout"
	EventTypeCancelled EventType = "cancelled"
	EventTypeChange    EventType = "change"
)

// Event は購読者向けに連番付きで配信されるイベントです
type Event struct {
	Seq          int64     `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	SourceID     uuid.UUID `json:"sourceID"`
	Type         EventType `json:"type"`
	Status       Status    `json:"status,omitempty"`
	Stage        Stage     `json:"stage,omitempty"`
	TaskID       string    `json:"taskID,omitempty"`
	Attempt      int       `json:"attempt,omitempty"`
	Message      string    `json:"message,omitempty"`
	DashboardURL string    `json:"dashboardURL,omitempty"`
	Op           ChangeOp  `json:"op,omitempty"`
}

// Observer はイベントの注入可能な受け口です
type Observer interface {
	Publish(event Event) Event
}

// NopObserver はイベントを破棄する Observer です
type NopObserver struct{}

// Publish は何もしません
func (NopObserver) Publish(event Event) Event { return event }
