package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/events"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/repo"
	"github.com/richardliu001/ticket-service/internal/uow"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInvalidInput means the request failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition means the ticket cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 4000
	maxReasonLength      = 500
)

// TicketService glues ticket rules, the repository and the unit of work.
type TicketService struct {
	repo repo.RepositoryInterface
	uow  *uow.UnitOfWork
	log  *zap.SugaredLogger
}

// NewTicketService returns TicketService.
func NewTicketService(r repo.RepositoryInterface, u *uow.UnitOfWork, logger *zap.SugaredLogger) *TicketService {
	return &TicketService{repo: r, uow: u, log: logger}
}

type CreateTicketInput struct {
	Title          string
	Description    string
	Priority       model.TicketPriority
	Type           model.TicketType
	CustomerID     uuid.UUID
	CategoryID     uuid.UUID
	DueDate        *time.Time
	Tags           []string
	EstimatedHours decimal.Decimal
}

func (in *CreateTicketInput) validate() error {
	if err := validateText(in.Title, in.Description); err != nil {
		return err
	}
	if !in.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInput, in.Type)
	}
	if in.CustomerID == uuid.Nil || in.CategoryID == uuid.Nil {
		return fmt.Errorf("%w: customer and category are required", ErrInvalidInput)
	}
	if in.EstimatedHours.IsNegative() {
		return fmt.Errorf("%w: estimated hours must not be negative", ErrInvalidInput)
	}
	return nil
}

func validateText(title, description string) error {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	switch {
	case title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case len(title) > maxTitleLength:
		return fmt.Errorf("%w: title longer than %d", ErrInvalidInput, maxTitleLength)
	case description == "":
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	case len(description) > maxDescriptionLength:
		return fmt.Errorf("%w: description longer than %d", ErrInvalidInput, maxDescriptionLength)
	}
	return nil
}

// CreateTicket stores an open ticket and records ticket.created.
func (s *TicketService) CreateTicket(ctx context.Context, in CreateTicketInput) (*model.Ticket, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t := &model.Ticket{
		ID:             uuid.New(),
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Priority:       in.Priority,
		Status:         model.TicketStatusOpen,
		Type:           in.Type,
		CustomerID:     in.CustomerID,
		CategoryID:     in.CategoryID,
		DueDate:        in.DueDate,
		Tags:           model.JoinTags(in.Tags),
		EstimatedHours: in.EstimatedHours,
	}
	err := s.uow.Do(ctx, func(sess *uow.Session) error {
		if err := s.repo.CreateTicket(ctx, sess.Tx, t); err != nil {
			return err
		}
		sess.Record(&events.TicketCreated{
			Envelope:    events.NewEnvelope(t.ID, model.TicketAggregateType, events.StrategyBackground),
			Title:       t.Title,
			Description: t.Description,
			Priority:    string(t.Priority),
			Type:        string(t.Type),
			CustomerID:  t.CustomerID,
			CategoryID:  t.CategoryID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, t)
	return t, nil
}

// UpdateTicketInput carries optional changes; nil fields are left as they are.
type UpdateTicketInput struct {
	Title          *string
	Description    *string
	Priority       *model.TicketPriority
	DueDate        *time.Time
	Tags           []string
	EstimatedHours *decimal.Decimal
}

// UpdateTicket edits descriptive fields. It raises no event.
func (s *TicketService) UpdateTicket(ctx context.Context, id uuid.UUID, in UpdateTicketInput) (*model.Ticket, error) {
	var out *model.Ticket
	err := s.uow.Do(ctx, func(sess *uow.Session) error {
		t, err := s.repo.GetTicketForUpdate(ctx, sess.Tx, id)
		if err != nil {
			return err
		}
		if in.Title != nil {
			t.Title = strings.TrimSpace(*in.Title)
		}
		if in.Description != nil {
			t.Description = strings.TrimSpace(*in.Description)
		}
		if err := validateText(t.Title, t.Description); err != nil {
			return err
		}
		if in.Priority != nil {
			if !in.Priority.Valid() {
				return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *in.Priority)
			}
			t.Priority = *in.Priority
		}
		if in.DueDate != nil {
			t.DueDate = in.DueDate
		}
		if in.Tags != nil {
			t.Tags = model.JoinTags(in.Tags)
		}
		if in.EstimatedHours != nil {
			if in.EstimatedHours.IsNegative() {
				return fmt.Errorf("%w: estimated hours must not be negative", ErrInvalidInput)
			}
			t.EstimatedHours = *in.EstimatedHours
		}
		if err := s.repo.UpdateTicket(ctx, sess.Tx, t, t.Version); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache(ctx, out)
	return out, nil
}

type ChangeStatusInput struct {
	Status          model.TicketStatus
	Reason          *string
	ResolutionNotes *string
	ChangedBy       uuid.UUID
}

// ChangeStatus moves the ticket along the status graph, writes a history row and records
// ticket.status_changed. Asking for the current status is a no-op, except that a closed
// ticket cannot be closed again.
func (s *TicketService) ChangeStatus(ctx context.Context, id uuid.UUID, in ChangeStatusInput) (*model.Ticket, error) {
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}
	if in.Reason != nil && len(*in.Reason) > maxReasonLength {
		return nil, fmt.Errorf("%w: reason longer than %d", ErrInvalidInput, maxReasonLength)
	}

	var out *model.Ticket
	changed := false
	err := s.uow.Do(ctx, func(sess *uow.Session) error {
		t, err := s.repo.GetTicketForUpdate(ctx, sess.Tx, id)
		if err != nil {
			return err
		}
		out = t
		old := t.Status
		if old == in.Status {
			if old == model.TicketStatusClosed {
				return fmt.Errorf("%w: ticket is already closed", ErrInvalidTransition)
			}
			return nil
		}
		if !canTransition(old, in.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old, in.Status)
		}
		if reasonRequired(in.Status) && (in.Reason == nil || strings.TrimSpace(*in.Reason) == "") {
			return fmt.Errorf("%w: reason is required for %s", ErrInvalidInput, in.Status)
		}

		applyStatus(t, in, time.Now().UTC())
		if err := s.repo.UpdateTicket(ctx, sess.Tx, t, t.Version); err != nil {
			return err
		}
		if err := s.repo.CreateStatusHistory(ctx, sess.Tx, &model.TicketStatusHistory{
			TicketID:  t.ID,
			OldStatus: old,
			NewStatus: in.Status,
			ChangedBy: in.ChangedBy,
			Reason:    in.Reason,
		}); err != nil {
			return err
		}
		sess.Record(&events.TicketStatusChanged{
			Envelope:  events.NewEnvelope(t.ID, model.TicketAggregateType, events.StrategyBackground),
			OldStatus: string(old),
			NewStatus: string(in.Status),
			Reason:    in.Reason,
			ChangedBy: in.ChangedBy,
		})
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.cache(ctx, out)
	}
	return out, nil
}

func applyStatus(t *model.Ticket, in ChangeStatusInput, now time.Time) {
	t.Status = in.Status
	switch in.Status {
	case model.TicketStatusResolved:
		t.ResolvedAt = &now
		if in.ResolutionNotes != nil {
			t.ResolutionNotes = in.ResolutionNotes
		}
	case model.TicketStatusClosed:
		t.ClosedAt = &now
		if t.ResolvedAt == nil {
			t.ResolvedAt = &now
		}
	case model.TicketStatusReopened:
		t.ResolvedAt = nil
		t.ClosedAt = nil
		t.ResolutionNotes = nil
	}
}

// AssignTicket sets or clears the assignee and records ticket.assigned for immediate
// delivery. Re-assigning the same user is a no-op.
func (s *TicketService) AssignTicket(ctx context.Context, id uuid.UUID, assignee *uuid.UUID, assignedBy uuid.UUID) (*model.Ticket, error) {
	if assignee != nil && *assignee == uuid.Nil {
		assignee = nil
	}
	var out *model.Ticket
	changed := false
	err := s.uow.Do(ctx, func(sess *uow.Session) error {
		t, err := s.repo.GetTicketForUpdate(ctx, sess.Tx, id)
		if err != nil {
			return err
		}
		out = t
		previous := t.AssignedToUserID
		if sameAssignee(previous, assignee) {
			return nil
		}
		t.AssignedToUserID = assignee
		if err := s.repo.UpdateTicket(ctx, sess.Tx, t, t.Version); err != nil {
			return err
		}
		sess.Record(&events.TicketAssigned{
			Envelope:           events.NewEnvelope(t.ID, model.TicketAggregateType, events.StrategyImmediate),
			PreviousAssigneeID: previous,
			NewAssigneeID:      assignee,
			AssignedBy:         assignedBy,
		})
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.cache(ctx, out)
	}
	return out, nil
}

func sameAssignee(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DeleteTicket soft-deletes the ticket and records ticket.deleted.
func (s *TicketService) DeleteTicket(ctx context.Context, id uuid.UUID, deletedBy uuid.UUID) error {
	err := s.uow.Do(ctx, func(sess *uow.Session) error {
		t, err := s.repo.GetTicketForUpdate(ctx, sess.Tx, id)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteTicket(ctx, sess.Tx, t.ID); err != nil {
			return err
		}
		sess.Record(&events.TicketDeleted{
			Envelope:  events.NewEnvelope(t.ID, model.TicketAggregateType, events.StrategyBackground),
			DeletedBy: deletedBy,
		})
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.repo.EvictTicket(ctx, id); err != nil && !errors.Is(err, repo.ErrCacheDisabled) {
		s.log.Warn(err)
	}
	return nil
}

// GetTicket returns the cached snapshot, loading it from the database on a miss.
func (s *TicketService) GetTicket(ctx context.Context, id uuid.UUID) (*repo.TicketSnapshot, error) {
	if snap, err := s.repo.GetCachedTicket(ctx, id); err == nil {
		return snap, nil
	}
	t, err := s.repo.GetTicket(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	snap := repo.SnapshotOf(t)
	s.cache(ctx, t)
	return &snap, nil
}

// GetTicketDetails loads the full ticket and its status history from the database.
func (s *TicketService) GetTicketDetails(ctx context.Context, id uuid.UUID) (*model.Ticket, []model.TicketStatusHistory, error) {
	t, err := s.repo.GetTicket(ctx, nil, id)
	if err != nil {
		return nil, nil, err
	}
	hist, err := s.repo.ListStatusHistory(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, hist, nil
}

func (s *TicketService) cache(ctx context.Context, t *model.Ticket) {
	if err := s.repo.CacheTicket(ctx, repo.SnapshotOf(t)); err != nil && !errors.Is(err, repo.ErrCacheDisabled) {
		s.log.Warn(err)
	}
}
