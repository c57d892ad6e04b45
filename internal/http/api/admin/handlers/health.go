package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

// Healthz pings the database and Redis.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	status := gin.H{"database": true, "redis": true}
	healthy := true

	sqlDB, errDB := h.db.DB()
	if errDB != nil || sqlDB.PingContext(ctx) != nil {
		status["database"] = false
		healthy = false
	}
	if h.rdb == nil || h.rdb.Ping(ctx).Err() != nil {
		status["redis"] = false
		healthy = false
	}
	status["ok"] = healthy
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}
