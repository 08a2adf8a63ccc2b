package model

import (
	"time"

	"github.com/google/uuid"
)

type MessagePriority int

const (
	PriorityNormal MessagePriority = 0
	PriorityHigh   MessagePriority = 1
)

// OutboxMessage is one durable outbox row. The claim columns (IsClaimed, ClaimedBy,
// ClaimedAt) are always written together.
type OutboxMessage struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Type          string          `gorm:"size:500;not null"`
	Content       string          `gorm:"type:text;not null"`
	CreatedAt     time.Time       `gorm:"not null;index"`
	AggregateID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	AggregateType string          `gorm:"size:250;not null"`
	PartitionKey  int64           `gorm:"not null;index"`
	ProcessedAt   *time.Time      `gorm:"index:idx_outbox_pending,priority:1"`
	Error         *string         `gorm:"size:2000"`
	RetryCount    int             `gorm:"not null;default:0"`
	IsClaimed     bool            `gorm:"not null;default:false;index:idx_outbox_pending,priority:2"`
	ClaimedBy     *string         `gorm:"size:100"`
	ClaimedAt     *time.Time
	Priority      MessagePriority `gorm:"not null;default:0;index"`
}

func (OutboxMessage) TableName() string { return "outbox_message" }

func (m OutboxMessage) Processed() bool { return m.ProcessedAt != nil }

// ClaimActive reports whether the snapshot holds a claim that has not outlived lease.
// A zero lease never expires.
func (m OutboxMessage) ClaimActive(now time.Time, lease time.Duration) bool {
	if !m.IsClaimed {
		return false
	}
	if lease <= 0 || m.ClaimedAt == nil {
		return true
	}
	return m.ClaimedAt.After(now.Add(-lease))
}
