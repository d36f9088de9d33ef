package config

type SecurityLevel int

const (
	SecurityPublic  SecurityLevel = iota // No authentication
	SecurityWebhook                      // Source address must be in webhook.allowed_cidrs
	SecurityClient                       // Client bearer token required
	SecurityAdmin                        // Admin bearer token or admin API key required
)

// EndpointSecurityConfig maps route names to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	"health":  SecurityPublic,
	"metrics": SecurityPublic,

	"payments.webhook": SecurityWebhook,

	"payments.client": SecurityClient,
	"rentals.client":  SecurityClient,
	"clients.balance": SecurityClient,

	"admin.commands": SecurityAdmin,
	"admin.issues":   SecurityAdmin,
	"admin.rentals":  SecurityAdmin,
}

// GetSecurityLevel returns the security level for a given route name
func GetSecurityLevel(route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[route]; exists {
		return level
	}
	// Default to highest security for unknown routes
	return SecurityAdmin
}
