package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	permissions "github.com/router-for-me/CreditLedger/internal/http/api/admin/permissions"
)

// PermissionHandler exposes the admin route catalogue.
type PermissionHandler struct{}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler() *PermissionHandler {
	return &PermissionHandler{}
}

// List returns the admin routes grouped by module.
func (h *PermissionHandler) List(c *gin.Context) {
	modules := make([]string, 0)
	grouped := make(map[string][]permissions.Definition)
	for _, def := range permissions.Definitions() {
		if _, seen := grouped[def.Module]; !seen {
			modules = append(modules, def.Module)
		}
		grouped[def.Module] = append(grouped[def.Module], def)
	}
	out := make([]gin.H, 0, len(modules))
	for _, module := range modules {
		out = append(out, gin.H{"module": module, "permissions": grouped[module]})
	}
	c.JSON(http.StatusOK, gin.H{"modules": out})
}
