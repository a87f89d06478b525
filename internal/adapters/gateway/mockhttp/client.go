// Package mockhttp is a GatewayClient/server pair used for local
// development and load testing without real Twilio credentials.
package mockhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/ports"
)

// Client implements ports.GatewayClient by POSTing to a mock-gateway
// instance's /send endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client pointed at baseURL (e.g. http://localhost:9090).
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type sendPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

type sendResponse struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"providerMessageId"`
	SegmentCount      int    `json:"segmentCount"`
	MediaCount        int    `json:"mediaCount"`
	ErrorCode         string `json:"errorCode,omitempty"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
}

// Send POSTs the request to the mock gateway. Any transport or decode
// failure is folded into a failed SendResult rather than returned as an
// error, matching the real gateway client's contract.
func (c *Client) Send(ctx context.Context, req ports.SendRequest) (ports.SendResult, error) {
	body, err := json.Marshal(sendPayload{From: req.From, To: req.To, Body: req.Body, MediaURL: req.MediaURL})
	if err != nil {
		return ports.SendResult{ErrorMessage: err.Error()}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return ports.SendResult{ErrorMessage: err.Error()}, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ports.SendResult{ErrorMessage: err.Error()}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.SendResult{ErrorMessage: err.Error()}, nil
	}

	var parsed sendResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ports.SendResult{ErrorMessage: fmt.Sprintf("decode response: %v", err)}, nil
	}

	if !parsed.Success {
		return ports.SendResult{ErrorCode: parsed.ErrorCode, ErrorMessage: parsed.ErrorMessage}, nil
	}

	if parsed.ProviderMessageID == "" {
		parsed.ProviderMessageID = "MOCK" + uuid.New().String()
	}

	return ports.SendResult{
		ProviderMessageID: parsed.ProviderMessageID,
		SegmentCount:      parsed.SegmentCount,
		MediaCount:        parsed.MediaCount,
	}, nil
}
