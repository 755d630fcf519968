package users

import "errors"

// ErrInvalidScope indicates a scope with neither an owner nor admin access.
var ErrInvalidScope = errors.New("users: scope requires an owner or admin access")

// Scope restricts SmartLink and analytics operations to one owner. An admin scope is
// unrestricted.
type Scope struct {
	OwnerID string
	Admin   bool
}

// OwnerScope limits access to ownerID's records.
func OwnerScope(ownerID string) Scope {
	return Scope{OwnerID: normalize(ownerID)}
}

// AdminScope grants unscoped access.
func AdminScope() Scope {
	return Scope{Admin: true}
}

// Validate reports whether the scope can be applied.
func (s Scope) Validate() error {
	if s.Admin || normalize(s.OwnerID) != "" {
		return nil
	}
	return ErrInvalidScope
}

// Allows reports whether a record owned by ownerID is visible within the scope.
func (s Scope) Allows(ownerID string) bool {
	return s.Admin || (s.OwnerID != "" && s.OwnerID == ownerID)
}
