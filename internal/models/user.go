package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPER_ADMIN"
	RoleRegistrar  UserRole = "REGISTRAR"
	RoleAdmin      UserRole = "ADMIN"
)

// Actor is the resolved operator identity a workflow step runs under.
type Actor struct {
	UserID   string
	TenantID string
	Role     UserRole
}

// ActorFromClaims derives an actor from verified token claims.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, TenantID: claims.TenantID, Role: claims.Role}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
