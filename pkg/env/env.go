package env

import "os"

// Get returns the environment value for key, or fallback when unset or empty.
func Get(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
