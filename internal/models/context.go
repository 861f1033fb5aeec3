package models

// RequestContext is the {role, user, school} tuple every downstream step filters
// on. Fields are unexported so a value can only come from NewRequestContext and
// cannot be edited after binding.
type RequestContext struct {
	role     UserRole
	userID   string
	schoolID string
}

// NewRequestContext builds a context value. Only the session binder should call it
// outside of tests.
func NewRequestContext(role UserRole, userID, schoolID string) RequestContext {
	return RequestContext{role: role, userID: userID, schoolID: schoolID}
}

func (c RequestContext) Role() UserRole   { return c.role }
func (c RequestContext) UserID() string   { return c.userID }
func (c RequestContext) SchoolID() string { return c.schoolID }

// IsZero reports whether the context was never bound.
func (c RequestContext) IsZero() bool {
	return c.role == "" && c.userID == "" && c.schoolID == ""
}
