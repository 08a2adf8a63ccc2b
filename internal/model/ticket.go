package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TicketAggregateType is the aggregate type stamped on every ticket event and outbox row.
const TicketAggregateType = "TicketCard"

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusOnHold     TicketStatus = "ON_HOLD"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusReopened   TicketStatus = "REOPENED"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusOnHold,
		TicketStatusResolved, TicketStatusClosed, TicketStatusReopened:
		return true
	}
	return false
}

type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

type TicketType string

const (
	TicketTypeBug         TicketType = "BUG"
	TicketTypeFeature     TicketType = "FEATURE"
	TicketTypeSupport     TicketType = "SUPPORT"
	TicketTypeImprovement TicketType = "IMPROVEMENT"
	TicketTypeTask        TicketType = "TASK"
	TicketTypeQuestion    TicketType = "QUESTION"
	TicketTypeIncident    TicketType = "INCIDENT"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeBug, TicketTypeFeature, TicketTypeSupport, TicketTypeImprovement,
		TicketTypeTask, TicketTypeQuestion, TicketTypeIncident:
		return true
	}
	return false
}

type Ticket struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Title            string          `gorm:"size:200;not null"`
	Description      string          `gorm:"size:4000;not null"`
	Priority         TicketPriority  `gorm:"size:16;not null"`
	Status           TicketStatus    `gorm:"size:16;not null;index"`
	Type             TicketType      `gorm:"size:16;not null"`
	CustomerID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	CategoryID       uuid.UUID       `gorm:"type:uuid;not null"`
	AssignedToUserID *uuid.UUID      `gorm:"type:uuid;index"`
	DueDate          *time.Time
	ResolvedAt       *time.Time
	ClosedAt         *time.Time
	ResolutionNotes  *string         `gorm:"size:2000"`
	Tags             string          `gorm:"size:600"`
	EstimatedHours   decimal.Decimal `gorm:"type:numeric(10,2);not null;default:'0'"`
	Version          uint64          `gorm:"not null;default:0"`
	CreatedAt        time.Time       `gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime"`
	DeletedAt        gorm.DeletedAt  `gorm:"index"`
}

func (Ticket) TableName() string { return "ticket_card" }

// TagList splits the stored comma separated tags.
func (t Ticket) TagList() []string {
	if t.Tags == "" {
		return []string{}
	}
	return strings.Split(t.Tags, ",")
}

// JoinTags is the inverse of TagList.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}
