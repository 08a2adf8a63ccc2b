package model

import (
	"time"

	"github.com/google/uuid"
)

type TicketStatusHistory struct {
	ID        uint64       `gorm:"primaryKey"`
	TicketID  uuid.UUID    `gorm:"type:uuid;not null;index"`
	OldStatus TicketStatus `gorm:"size:16;not null"`
	NewStatus TicketStatus `gorm:"size:16;not null"`
	ChangedBy uuid.UUID    `gorm:"type:uuid;not null"`
	Reason    *string      `gorm:"size:500"`
	CreatedAt time.Time    `gorm:"autoCreateTime"`
}

func (TicketStatusHistory) TableName() string { return "ticket_status_history" }
