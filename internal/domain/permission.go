package domain

import (
	"encoding/json"
	"strings"
)

// Permission is the decision attached to a tool-confirmation resume.
type Permission string

const (
	PermissionAllowOnce   Permission = "allow_once"
	PermissionAlwaysAllow Permission = "always_allow"
	PermissionDenyOnce    Permission = "deny_once"
	PermissionAlwaysDeny  Permission = "always_deny"
	PermissionCancel      Permission = "cancel"
)

// PrincipalType identifies what a permission decision applies to.
type PrincipalType string

const PrincipalTypeTool PrincipalType = "tool"

// PermissionConfirmation is the resolved decision forwarded to the agent.
type PermissionConfirmation struct {
	PrincipalType PrincipalType `json:"principal_type"`
	Permission    Permission    `json:"permission"`
}

// ParsePermission extracts a permission decision from a free-form resume
// payload. Precedence: a bare string token, then an "action" field with the
// same tokens, then allow-once as the default for anything unrecognized.
func ParsePermission(data json.RawMessage) Permission {
	var token string
	if err := json.Unmarshal(data, &token); err == nil {
		if p, ok := permissionToken(token); ok {
			return p
		}
		return PermissionAllowOnce
	}

	var obj struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Action != "" {
		if p, ok := permissionToken(obj.Action); ok {
			return p
		}
	}
	return PermissionAllowOnce
}

func permissionToken(s string) (Permission, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow_once", "allowonce":
		return PermissionAllowOnce, true
	case "always_allow", "alwaysallow":
		return PermissionAlwaysAllow, true
	case "deny_once", "denyonce":
		return PermissionDenyOnce, true
	case "always_deny", "alwaysdeny":
		return PermissionAlwaysDeny, true
	case "cancel":
		return PermissionCancel, true
	}
	return "", false
}
