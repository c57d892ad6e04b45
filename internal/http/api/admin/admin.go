package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/credits"
	apphttp "github.com/router-for-me/CreditLedger/internal/http"
	"github.com/router-for-me/CreditLedger/internal/http/api/admin/handlers"
	"github.com/router-for-me/CreditLedger/internal/ratelimit"
	"github.com/router-for-me/CreditLedger/internal/session"
	"gorm.io/gorm"
)

// Deps carries everything the admin routes need.
type Deps struct {
	DB       *gorm.DB
	Ledger   *credits.Ledger
	Sessions *session.Store
	Cookie   apphttp.CookieConfig
	Limiter  *ratelimit.Limiter
}

// RegisterAdminRoutes registers the admin API under /v0/admin.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil || deps.Sessions == nil || deps.Ledger == nil {
		return
	}
	limit := deps.Limiter.Middleware

	group := r.Group("/v0/admin")
	group.Use(
		apphttp.SessionAuthMiddleware(deps.Sessions, deps.Cookie),
		apphttp.RequireAdmin(),
		adminPermissionMiddleware(deps.DB),
	)

	permissionHandler := handlers.NewPermissionHandler()
	group.GET("/permissions", permissionHandler.List)

	userHandler := handlers.NewUserHandler(deps.DB, deps.Sessions)
	group.GET("/users", userHandler.List)
	group.GET("/users/:id", userHandler.Get)
	group.POST("/users/:id/disable", limit(ratelimit.Settings), userHandler.Disable)
	group.POST("/users/:id/enable", limit(ratelimit.Settings), userHandler.Enable)
	group.DELETE("/users/:id/sessions", limit(ratelimit.DeleteSession), userHandler.RevokeSessions)

	creditHandler := handlers.NewCreditHandler(deps.DB, deps.Ledger, deps.Sessions)
	group.GET("/users/:id/transactions", creditHandler.Transactions)
	group.POST("/users/:id/credits", limit(ratelimit.Settings), creditHandler.Grant)
	group.POST("/users/:id/sweep", creditHandler.Sweep)
	group.POST("/credits/reconcile", creditHandler.Reconcile)

	settingHandler := handlers.NewSettingHandler(deps.DB)
	group.GET("/settings", settingHandler.List)
	group.PUT("/settings/:key", limit(ratelimit.Settings), settingHandler.Put)
}
