package auth

import "ticketflow/internal/model"

// IsAuthorized reports whether role satisfies a route's role requirement.
// No requirement means any authenticated principal passes; an empty role
// never satisfies a non-empty requirement.
func IsAuthorized(role model.Role, required ...model.Role) bool {
	if len(required) == 0 {
		return true
	}
	if role == "" {
		return false
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}
