package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/ticket-service/internal/config"
	"github.com/richardliu001/ticket-service/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.TicketService, admin OutboxAdmin, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, admin)
	return r
}
