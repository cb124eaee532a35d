package auth

import "net/http"

// CheckPermission reports whether claims grant the required permission.
//
// A token without a permissions claim fails with KindInvalidClaims and a 400
// status: it was issued without permission scoping at all, which is a
// different problem from a valid token lacking this one permission
// (KindPermissionDenied, 403).
func CheckPermission(c *Claims, required string) error {
	if c == nil || !c.HasPermissions {
		e := newError(ErrInvalidClaims, "permissions not included in token", nil)
		e.Status = http.StatusBadRequest
		return e
	}
	if required == "" {
		return newError(ErrPermissionDenied, "no permission configured for this operation", nil)
	}
	for _, p := range c.Permissions {
		if p == required {
			return nil
		}
	}
	return newError(ErrPermissionDenied, "", nil)
}
