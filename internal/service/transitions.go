package service

import "github.com/richardliu001/ticket-service/internal/model"

// allowedTransitions lists the statuses reachable from each status.
var allowedTransitions = map[model.TicketStatus][]model.TicketStatus{
	model.TicketStatusOpen: {
		model.TicketStatusInProgress, model.TicketStatusOnHold, model.TicketStatusResolved, model.TicketStatusClosed,
	},
	model.TicketStatusInProgress: {
		model.TicketStatusOnHold, model.TicketStatusResolved, model.TicketStatusClosed, model.TicketStatusOpen,
	},
	model.TicketStatusOnHold: {
		model.TicketStatusInProgress, model.TicketStatusOpen, model.TicketStatusClosed,
	},
	model.TicketStatusResolved: {model.TicketStatusClosed, model.TicketStatusReopened},
	model.TicketStatusClosed:   {model.TicketStatusReopened},
	model.TicketStatusReopened: {
		model.TicketStatusInProgress, model.TicketStatusOnHold, model.TicketStatusResolved, model.TicketStatusClosed,
	},
}

func canTransition(from, to model.TicketStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// reasonRequired reports whether moving into s must carry a reason.
func reasonRequired(s model.TicketStatus) bool {
	return s == model.TicketStatusOnHold || s == model.TicketStatusClosed
}
