package rbac

// Role names recognized across the service. Roles travel inside access token
// claims; changing a user's roles takes effect on the next token issuance.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
