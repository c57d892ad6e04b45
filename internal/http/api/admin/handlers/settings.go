package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	internalsettings "github.com/router-for-me/CreditLedger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type settingKind int

const (
	kindString settingKind = iota
	kindBool
	kindInt
	kindStrings
)

// knownSettings lists the keys read at runtime and the JSON shape each takes.
var knownSettings = map[string]settingKind{
	internalsettings.SiteNameKey:           kindString,
	internalsettings.FreeMonthlyCreditsKey: kindInt,
	internalsettings.CaptchaEnabledKey:     kindBool,
	internalsettings.SignUpEnabledKey:      kindBool,
	internalsettings.WebAuthnRPNameKey:     kindString,
	internalsettings.WebAuthnOriginsKey:    kindStrings,
	internalsettings.WebAuthnOriginKey:     kindString,
	internalsettings.WebAuthnRPIDKey:       kindString,
	internalsettings.TokenRetentionDaysKey: kindInt,
}

// SettingHandler reads and writes runtime settings.
type SettingHandler struct {
	db *gorm.DB
}

// NewSettingHandler constructs a SettingHandler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

// List returns all stored settings.
func (h *SettingHandler) List(c *gin.Context) {
	rows, errList := internalsettings.ListSettings(c.Request.Context(), h.db)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"key":        row.Key,
			"value":      json.RawMessage(row.Value),
			"updated_at": row.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// Put stores one setting. The body is the raw JSON value.
func (h *SettingHandler) Put(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	kind, ok := knownSettings[key]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting"})
		return
	}
	raw, errRead := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !validSettingValue(kind, raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value for " + key})
		return
	}
	if errUpsert := internalsettings.UpsertSetting(c.Request.Context(), h.db, key, json.RawMessage(raw)); errUpsert != nil {
		log.WithError(errUpsert).WithField("key", key).Error("upsert setting failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update setting failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": json.RawMessage(raw)})
}

func validSettingValue(kind settingKind, raw []byte) bool {
	switch kind {
	case kindString:
		var v string
		return json.Unmarshal(raw, &v) == nil
	case kindBool:
		var v bool
		return json.Unmarshal(raw, &v) == nil
	case kindInt:
		var v int64
		return json.Unmarshal(raw, &v) == nil && v >= 0
	case kindStrings:
		var v []string
		return json.Unmarshal(raw, &v) == nil
	}
	return false
}
