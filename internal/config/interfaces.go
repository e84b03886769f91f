package config

import "context"

// SecretProvider resolves secret paths to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns path -> value for every path it could
	// resolve. Unknown paths are omitted, not reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// NewSecretProvider picks the provider named by source: "env" resolves
// pointers against other environment variables, anything else uses SSM.
func NewSecretProvider(source, region, endpoint string) SecretProvider {
	if source == "env" {
		return NewEnvVarProvider()
	}
	return NewSSMProvider(region, endpoint)
}
