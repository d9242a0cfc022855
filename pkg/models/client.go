package models

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// unavailableReply is served when every provider in the chain fails.
const unavailableReply = "I apologize, but I'm unable to process your request at this time. Please try again later."

// Client tries providers in order until one succeeds. The first entry
// is the primary, the rest are fallbacks.
type Client struct {
	providers []Provider
	timeout   time.Duration
	logger    *log.Logger
	clock     func() time.Time
}

// ClientOptions tunes the chain; zero values fall back to defaults.
type ClientOptions struct {
	// Timeout bounds each individual provider attempt, not the chain.
	Timeout time.Duration
	Logger  *log.Logger
	Clock   func() time.Time
}

// NewClient builds a fallback chain over the given providers.
func NewClient(providers []Provider, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "ai-client: ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Client{
		providers: providers,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Generate walks the chain and returns the first successful response.
// When every provider fails, the returned Response carries the apology
// text, Success false and the last error; the error return mirrors it
// so callers can branch either way.
func (c *Client) Generate(ctx context.Context, prompt string) (Response, error) {
	var lastErr error
	for _, provider := range c.providers {
		start := c.clock()
		text, err := c.generateOne(ctx, provider, prompt)
		elapsed := c.clock().Sub(start)
		if err != nil {
			c.logf("provider %s failed after %s: %v", provider.Name(), elapsed, err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return Response{
			Text:           text,
			Provider:       provider.Name(),
			Model:          provider.ModelID(),
			ResponseTimeMs: int(elapsed.Milliseconds()),
			Success:        true,
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	c.logf("all providers failed: %v", lastErr)
	return Response{
		Text:     unavailableReply,
		Provider: "none",
		Model:    "unknown",
		Success:  false,
		Error:    lastErr.Error(),
	}, lastErr
}

func (c *Client) generateOne(ctx context.Context, provider Provider, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return provider.Generate(ctx, prompt)
}

// Providers lists the chain for health reporting.
func (c *Client) Providers() []Provider {
	return c.providers
}
