package inference

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Middleware wraps a provider call. It receives the request and a next
// function that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client routes requests by provider identifier and applies middleware.
// Clients are always constructed explicitly and passed to their consumers;
// there is no package-level default instance.
type Client struct {
	providers       map[string]Provider
	defaultProvider string
	middleware      []Middleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider.
func WithProvider(name string, provider Provider) ClientOption {
	return func(c *Client) {
		c.providers[name] = provider
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one provider, use it.
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider to the client.
func (c *Client) RegisterProvider(name string, provider Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = provider
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// resolveProvider determines which provider to use for a request.
func (c *Client) resolveProvider(req Request) (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{BoundaryError: BoundaryError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	provider, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{BoundaryError: BoundaryError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return provider, nil
}

// Complete sends a blocking request through middleware to the resolved
// provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	provider, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	if req.Provider == "" {
		req.Provider = provider.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return provider.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, provider := range c.providers {
		if closer, ok := provider.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// envKeys maps provider names to the environment variables that carry their
// API keys.
var envKeys = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// NewClientFromEnv builds a Client by scanning environment variables for
// provider API keys. It returns a ConfigurationError when no credentials
// are found, so callers can distinguish "no model available" from a
// transient failure.
func NewClientFromEnv(opts ...ClientOption) (*Client, error) {
	c := NewClient(opts...)

	registered := 0
	for provider, envKey := range envKeys {
		key := os.Getenv(envKey)
		if key == "" {
			continue
		}
		adapter, err := NewGollmProvider(provider, key)
		if err != nil {
			continue
		}
		c.RegisterProvider(provider, adapter)
		registered++
	}

	if registered == 0 {
		return nil, &ConfigurationError{BoundaryError: BoundaryError{
			Message: "no provider credentials found in environment",
		}}
	}
	return c, nil
}
