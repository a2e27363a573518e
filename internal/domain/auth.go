package domain

// AuthContext is the verified identity tuple the engine trusts without
// re-checking. Verification happens once at ingress; every service operation
// receives it from the caller.
type AuthContext struct {
	UserID string
	OrgID  string
	Role   string
}
