// Package access computes a caller's role on a file. It performs no I/O.
package access

import (
	"crypto/subtle"

	"filevault/pkg/domain"
)

// Evaluate returns the strongest role principal holds on file. principal is
// nil for anonymous callers; presentedToken is the public share token from the
// request, if any. Precedence is owner, shared-user, public.
func Evaluate(principal *domain.User, file domain.File, presentedToken string) domain.Role {
	if principal != nil {
		if principal.ID != "" && principal.ID == file.OwnerID {
			return domain.RoleOwner
		}
		if file.SharedWith(principal.Email) {
			return domain.RoleSharedUser
		}
	}
	if presentedToken != "" && file.ShareToken != "" &&
		subtle.ConstantTimeCompare([]byte(presentedToken), []byte(file.ShareToken)) == 1 {
		return domain.RolePublic
	}
	return domain.RoleNone
}

// Can is shorthand for Evaluate(...).Allows(op).
func Can(principal *domain.User, file domain.File, presentedToken string, op domain.Operation) bool {
	return Evaluate(principal, file, presentedToken).Allows(op)
}
