package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// waitHealthy polls the shell's health endpoint until it answers, so a host
// started alongside the shell does not race its listener.
func waitHealthy(ctx context.Context, streamURL string, logger *zap.Logger) error {
	target, err := healthURL(streamURL)
	if err != nil {
		return err
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debug("shell not ready, retrying", zap.String("url", req.URL.String()), zap.Int("attempt", attempt))
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("shell health: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("shell health: %s", resp.Status)
	}
	return nil
}

// healthURL maps a bridge URL such as ws://host:8080/stream to the shell's
// health endpoint on the same host.
func healthURL(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("bridge url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("bridge url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("bridge url: missing host")
	}
	u.Path = "/health"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
