package ports

import "context"

// SendRequest is the normalized outbound payload handed to the gateway,
// after template substitution and sender resolution.
type SendRequest struct {
	From     string
	To       string
	Body     string
	MediaURL string

	// ProviderAccountID/ProviderAuthToken, when non-empty, override the
	// process-wide gateway credentials for this send (§4.3 per-tenant
	// override).
	ProviderAccountID string
	ProviderAuthToken string

	StatusCallbackURL string
}

// SendResult is the gateway's immediate (non-final) response.
type SendResult struct {
	ProviderMessageID string
	SegmentCount      int
	MediaCount        int
	ErrorCode         string
	ErrorMessage      string
}

// GatewayClient abstracts the external SMS gateway (Twilio in production,
// an HTTP mock in local/load testing).
type GatewayClient interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// RateLimiter is a blocking token bucket: Acquire waits for a token or for
// ctx to be cancelled, never silently drops a caller.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}
