// Package ai holds the clients for the external speech and language
// services: recognition, chat completion, and speech synthesis. Each is
// specified only by its request/response contract; the protocol
// controller consumes them as opaque collaborators.
package ai

import (
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/config"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/resilience"
)

// ErrAuth marks a permanent authentication failure. Never retried.
var ErrAuth = errors.New("authentication failed")

// newRestyClient builds the shared HTTP client for Groq calls: resty on a
// retryablehttp transport, bearer auth, bounded timeout. Retry policy for
// the chat client is hand-rolled (auth failures must short-circuit), so
// resty-level retries stay off.
func newRestyClient(cfg config.GroqConfig) *resty.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	client := resty.New()
	client.
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSec)*time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("User-Agent", "HotPin-WebServer/1.0").
		SetTransport(retryClient.HTTPClient.Transport)

	return client
}

// newBreaker builds the circuit breaker shared pattern for external calls.
func newBreaker(name string) *resilience.Breaker {
	return resilience.New(name, resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// backoff returns the exponential wait before retry attempt n (0-based).
func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
