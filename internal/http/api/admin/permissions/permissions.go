package permissions

import (
	"sort"
	"strings"
)

// Definition describes one admin route that can be granted.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Label  string `json:"label"`
	Module string `json:"module"`
	// ReadOnly marks routes that never change state.
	ReadOnly bool `json:"read_only"`
}

var definitions = []Definition{
	newDefinition("GET", "/v0/admin/users", "List users", "Users", true),
	newDefinition("GET", "/v0/admin/users/:id", "View user", "Users", true),
	newDefinition("POST", "/v0/admin/users/:id/disable", "Disable user", "Users", false),
	newDefinition("POST", "/v0/admin/users/:id/enable", "Enable user", "Users", false),
	newDefinition("DELETE", "/v0/admin/users/:id/sessions", "Revoke user sessions", "Users", false),
	newDefinition("GET", "/v0/admin/users/:id/transactions", "View user transactions", "Credits", true),
	newDefinition("POST", "/v0/admin/users/:id/credits", "Grant credits", "Credits", false),
	newDefinition("POST", "/v0/admin/users/:id/sweep", "Sweep expired credits", "Credits", false),
	newDefinition("POST", "/v0/admin/credits/reconcile", "Reconcile balances", "Credits", false),
	newDefinition("GET", "/v0/admin/settings", "List settings", "Settings", true),
	newDefinition("PUT", "/v0/admin/settings/:key", "Update setting", "Settings", false),
	newDefinition("GET", "/v0/admin/permissions", "List permissions", "Permissions", true),
}

func newDefinition(method, path, label, module string, readOnly bool) Definition {
	return Definition{
		Key:      Key(method, path),
		Method:   method,
		Path:     path,
		Label:    label,
		Module:   module,
		ReadOnly: readOnly,
	}
}

// Key joins a method and a route pattern.
func Key(method, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(path)
}

// Definitions returns every admin route definition sorted by module then key.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// DefinitionMap indexes the definitions by key.
func DefinitionMap() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		out[def.Key] = def
	}
	return out
}
