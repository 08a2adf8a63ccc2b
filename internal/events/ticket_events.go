package events

import "github.com/google/uuid"

const (
	TypeTicketCreated       = "ticket.created"
	TypeTicketStatusChanged = "ticket.status_changed"
	TypeTicketAssigned      = "ticket.assigned"
	TypeTicketDeleted       = "ticket.deleted"
)

type TicketCreated struct {
	Envelope
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Type        string    `json:"type"`
	CustomerID  uuid.UUID `json:"customer_id"`
	CategoryID  uuid.UUID `json:"category_id"`
}

func (TicketCreated) EventType() string { return TypeTicketCreated }

type TicketStatusChanged struct {
	Envelope
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Reason    *string   `json:"reason,omitempty"`
	ChangedBy uuid.UUID `json:"changed_by"`
}

func (TicketStatusChanged) EventType() string { return TypeTicketStatusChanged }

type TicketAssigned struct {
	Envelope
	PreviousAssigneeID *uuid.UUID `json:"previous_assignee_id,omitempty"`
	NewAssigneeID      *uuid.UUID `json:"new_assignee_id,omitempty"`
	AssignedBy         uuid.UUID  `json:"assigned_by"`
}

func (TicketAssigned) EventType() string { return TypeTicketAssigned }

type TicketDeleted struct {
	Envelope
	DeletedBy uuid.UUID `json:"deleted_by"`
}

func (TicketDeleted) EventType() string { return TypeTicketDeleted }

// NewTicketRegistry returns a registry that knows every ticket event.
func NewTicketRegistry() *Registry {
	r := NewRegistry()
	Register[TicketCreated](r)
	Register[TicketStatusChanged](r)
	Register[TicketAssigned](r)
	Register[TicketDeleted](r)
	return r
}
