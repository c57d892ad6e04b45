package settings

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// dbConfigSnapshot holds the in-memory DB config values.
type dbConfigSnapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var globalDBConfig atomic.Value // stores dbConfigSnapshot

func init() {
	globalDBConfig.Store(dbConfigSnapshot{values: map[string]json.RawMessage{}})
}

// StoreDBConfig replaces the in-memory snapshot of DB-backed settings.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		next[key] = append(json.RawMessage(nil), v...)
	}
	globalDBConfig.Store(dbConfigSnapshot{
		updatedAt: updatedAt.UTC(),
		values:    next,
	})
}

// DBConfigUpdatedAt returns the last update timestamp for DB config.
func DBConfigUpdatedAt() time.Time {
	return loadDBConfig().updatedAt
}

// DBConfigValue returns a copy of the raw config value for a key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := loadDBConfig().values[key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), val...), true
}

// DBConfigString reads a string setting; missing or malformed values yield "".
func DBConfigString(key string) string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return ""
	}
	return parseString(raw)
}

// DBConfigStrings reads a list setting, accepting a single string too.
func DBConfigStrings(key string) []string {
	raw, ok := DBConfigValue(key)
	if !ok {
		return nil
	}
	return parseStrings(raw)
}

// DBConfigInt64 reads an integer setting.
func DBConfigInt64(key string) (int64, bool) {
	raw, ok := DBConfigValue(key)
	if !ok {
		return 0, false
	}
	return parseInt64(raw)
}

// DBConfigBool reads a boolean setting, returning fallback when unset.
func DBConfigBool(key string, fallback bool) bool {
	raw, ok := DBConfigValue(key)
	if !ok {
		return fallback
	}
	raw = bytes.TrimSpace(unwrap(raw))
	var b bool
	if errUnmarshal := json.Unmarshal(raw, &b); errUnmarshal == nil {
		return b
	}
	switch strings.ToLower(parseString(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func loadDBConfig() dbConfigSnapshot {
	cfg, ok := globalDBConfig.Load().(dbConfigSnapshot)
	if !ok || cfg.values == nil {
		return dbConfigSnapshot{updatedAt: cfg.updatedAt, values: map[string]json.RawMessage{}}
	}
	return cfg
}

// unwrap accepts values stored as { "value": ... }.
func unwrap(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return raw
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return unwrap(wrapper.Value)
	}
	return raw
}

func parseString(raw json.RawMessage) string {
	raw = unwrap(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func parseStrings(raw json.RawMessage) []string {
	raw = unwrap(raw)
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if errUnmarshal := json.Unmarshal(raw, &values); errUnmarshal == nil {
		out := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	if single := parseString(raw); single != "" {
		return []string{single}
	}
	return nil
}

func parseInt64(raw json.RawMessage) (int64, bool) {
	raw = unwrap(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
	if s := parseString(raw); s != "" {
		parsed, errParse := strconv.ParseInt(s, 10, 64)
		if errParse == nil {
			return parsed, true
		}
	}
	return 0, false
}
