package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apphttp "github.com/router-for-me/CreditLedger/internal/http"
	permissions "github.com/router-for-me/CreditLedger/internal/http/api/admin/permissions"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// adminPermissionMiddleware rejects routes missing from the permission
// definitions and callers whose stored role is no longer admin.
func adminPermissionMiddleware(db *gorm.DB) gin.HandlerFunc {
	permissionMap := permissions.DefinitionMap()

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		key := permissions.Key(c.Request.Method, path)
		def, ok := permissionMap[key]
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		userID := apphttp.CurrentUserID(c)
		if userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}

		// The session snapshot can lag a demotion, so the role is read back.
		var user models.User
		if errFind := db.WithContext(c.Request.Context()).Select("id", "role", "disabled").First(&user, userID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !user.IsAdmin() || user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		if !def.ReadOnly {
			log.WithFields(log.Fields{
				"admin_id":   userID,
				"permission": key,
				"path":       c.Request.URL.Path,
			}).Info("admin action")
		}
		c.Next()
	}
}
