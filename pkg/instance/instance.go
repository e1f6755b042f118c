// Package instance names the running replica in logs and lock tokens.
package instance

import (
	"os"

	"github.com/cardvault/marketplace-backend/pkg/env"
)

const fallbackID = "replica-0"

// GetID prefers CARDVAULT_INSTANCE_ID, then the hostname (the pod name on
// Cloud Run and Kubernetes).
func GetID() string {
	if id := env.Get("CARDVAULT_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
