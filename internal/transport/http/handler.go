package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richardliu001/ticket-service/internal/model"
	"github.com/richardliu001/ticket-service/internal/repo"
	"github.com/richardliu001/ticket-service/internal/service"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ActorHeader carries the id of the user performing a change.
const ActorHeader = "X-User-ID"

// OutboxAdmin is the operator view of the outbox table.
type OutboxAdmin interface {
	Stats(ctx context.Context) (repo.OutboxStats, error)
	ReleaseClaim(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

func RegisterHandlers(r *gin.Engine, svc *service.TicketService, admin OutboxAdmin) {
	v1 := r.Group("/v1")
	{
		v1.POST("/tickets", createHandler(svc))
		v1.GET("/tickets/:id", getHandler(svc))
		v1.GET("/tickets/:id/details", detailsHandler(svc))
		v1.PATCH("/tickets/:id", updateHandler(svc))
		v1.POST("/tickets/:id/status", statusHandler(svc))
		v1.POST("/tickets/:id/assign", assignHandler(svc))
		v1.DELETE("/tickets/:id", deleteHandler(svc))

		v1.GET("/outbox/stats", outboxStatsHandler(admin))
		v1.POST("/outbox/:id/release", outboxReleaseHandler(admin))
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, repo.ErrTicketNotFound), errors.Is(err, repo.ErrOutboxMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, repo.ErrVersionConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func actor(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(ActorHeader))
	if err != nil || id == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid " + ActorHeader})
		return uuid.Nil, false
	}
	return id, true
}

type createReq struct {
	Title          string     `json:"title" binding:"required"`
	Description    string     `json:"description" binding:"required"`
	Priority       string     `json:"priority" binding:"required"`
	Type           string     `json:"type" binding:"required"`
	CustomerID     uuid.UUID  `json:"customer_id" binding:"required"`
	CategoryID     uuid.UUID  `json:"category_id" binding:"required"`
	DueDate        *time.Time `json:"due_date"`
	Tags           []string   `json:"tags"`
	EstimatedHours string     `json:"estimated_hours"`
}

func createHandler(svc *service.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		hours := decimal.Zero
		if req.EstimatedHours != "" {
			var err error
			if hours, err = decimal.NewFromString(req.EstimatedHours); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid estimated_hours"})
				return
			}
		}
		t, err := svc.CreateTicket(c, service.CreateTicketInput{
			Title:          req.Title,
			Description:    req.Description,
			Priority:       model.TicketPriority(req.Priority),
			Type:           model.TicketType(req.Type),
			CustomerID:     req.CustomerID,
			CategoryID:     req.CategoryID,
			DueDate:        req.DueDate,
			Tags:           req.Tags,
			EstimatedHours: hours,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

func getHandler(svc *service.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		snap, err := svc.GetTicket(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func detailsHandler(svc *service.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		t, hist, err := svc.GetTicketDetails(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ticket": t, "status_history": hist})
	}
}

type updateReq struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	Priority       *string    `json:"priority"`
	DueDate        *time.Time `json:"due_date"`
	Tags           []string   `json:"tags"`
	EstimatedHours *string    `json:"estimated_hours"`
}

func updateHandler(svc *service.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req updateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in := service.UpdateTicketInput{
			Title:       req.Title,
			Description: req.Description,
			DueDate:     req.DueDate,
			Tags:        req.Tags,
		}
		if req.Priority != nil {
			p := model.TicketPriority(*req.Priority)
			in.Priority = &p
		}
		if req.EstimatedHours != nil {
			hours, err := decimal.NewFromString(*req.EstimatedHours)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid estimated_hours"})
				return
			}
			in.EstimatedHours = &hours
		}
		t, err := svc.UpdateTicket(c, id, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

type statusReq struct {
	Status          string  `json:"status" binding:"required"`
	Reason          *string `json:"reason"`
	ResolutionNotes *string `json:"resolution_notes"`
}

func statusHandler(svc *service.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		by, ok := actor(c)
		if !ok {
			return
		}
		var req statusReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t, err := svc.ChangeStatus(c, id, service.ChangeStatusInput{
			Status:          model.TicketStatus(req.Status),
			Reason:          req.Reason,
			ResolutionNotes: req.ResolutionNotes,
			ChangedBy:       by,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

type assignReq struct {
	AssigneeID *uuid.UUID `json:"assignee_id"`
}

func assignHandler(svc *service.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		by, ok := actor(c)
		if !ok {
			return
		}
		var req assignReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		t, err := svc.AssignTicket(c, id, req.AssigneeID, by)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func deleteHandler(svc *service.TicketService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		by, ok := actor(c)
		if !ok {
			return
		}
		if err := svc.DeleteTicket(c, id, by); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func outboxStatsHandler(admin OutboxAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := admin.Stats(c)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func outboxReleaseHandler(admin OutboxAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		released, err := admin.ReleaseClaim(c, nil, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "released": released})
	}
}
