package secret

// Provider defines the interface for secret storage backends.
type Provider interface {
	// Get retrieves a secret by key.
	Get(key string) (string, error)

	// Set stores a secret with the given key.
	Set(key string, value string) error

	// Delete removes a secret by key.
	Delete(key string) error
}

func AnthropicAPIKey() string {
	return "anthropic_api_key"
}

func PosthogAPIKey() string {
	return "posthog_api_key"
}
