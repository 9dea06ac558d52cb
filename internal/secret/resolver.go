// Package secret resolves deployment secrets from SSM Parameter Store or,
// in DEV_MODE, from environment variables.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) Resolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter from SSM with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver fetches secrets from environment variables.
// "/medidash/graph-client-secret" is read from GRAPH_CLIENT_SECRET: last path
// segment, uppercased, hyphens to underscores.
type EnvResolver struct{}

// NewEnvResolver returns a Resolver that reads from environment variables.
func NewEnvResolver() Resolver {
	return &EnvResolver{}
}

// Optional resolves name and returns fallback when name is empty or the lookup fails.
// Used for secrets that only some deployments configure (e.g. the sync secret).
func Optional(ctx context.Context, r Resolver, name, fallback string) string {
	if name == "" {
		return fallback
	}
	v, err := r.GetSecret(ctx, name)
	if err != nil {
		return fallback
	}
	return v
}

// Cached memoizes lookups for the lifetime of the process. Lambda containers
// resolve each parameter once per cold start.
type Cached struct {
	next Resolver
	mu   sync.Mutex
	vals map[string]string
}

func NewCached(next Resolver) *Cached {
	return &Cached{next: next, vals: make(map[string]string)}
}

func (c *Cached) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.vals[name]; ok {
		return v, nil
	}
	v, err := c.next.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	c.vals[name] = v
	return v, nil
}

// GetSecret reads from the environment variable derived from the parameter name.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
