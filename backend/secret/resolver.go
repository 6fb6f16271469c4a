package secret

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables. Each key maps to a
// list of variable names; the first one that is set wins.
type EnvProvider struct {
	lookup    func(string) (string, bool)
	variables map[string][]string
}

func NewEnvProvider(variables map[string][]string) *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv, variables: variables}
}

// DefaultEnvVariables maps the secrets dispatch knows about to their
// environment variables.
func DefaultEnvVariables() map[string][]string {
	return map[string][]string{
		AnthropicAPIKey(): {"DISPATCH_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
		PosthogAPIKey():   {"DISPATCH_ANALYTICS_POSTHOG_KEY"},
	}
}

func (e *EnvProvider) Get(key string) (string, error) {
	names, ok := e.variables[key]
	if !ok {
		names = []string{envName(key)}
	}

	for _, name := range names {
		if value, ok := e.lookup(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", &ErrSecretNotFound{Key: key}
}

func (e *EnvProvider) Set(key string, _ string) error {
	return &ErrReadOnly{Key: key}
}

func (e *EnvProvider) Delete(key string) error {
	return &ErrReadOnly{Key: key}
}

func envName(key string) string {
	return "DISPATCH_" + strings.ToUpper(key)
}

// Chain looks a secret up in several providers in order. Writes go to the
// first provider that accepts them.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Get(key string) (string, error) {
	for _, provider := range c.providers {
		value, err := provider.Get(key)
		switch {
		case err == nil:
			return value, nil
		case errors.Is(err, &ErrSecretNotFound{}):
			continue
		default:
			slog.Warn("secret provider failed, trying next", "key", key, "error", err)
		}
	}
	return "", &ErrSecretNotFound{Key: key}
}

func (c *Chain) Set(key string, value string) error {
	var errs []error
	for _, provider := range c.providers {
		err := provider.Set(key, value)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no provider could store secret %s: %w", key, errors.Join(errs...))
}

func (c *Chain) Delete(key string) error {
	var errs []error
	for _, provider := range c.providers {
		var readOnly *ErrReadOnly
		if err := provider.Delete(key); err != nil && !errors.As(err, &readOnly) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
