// Package twilio implements ports.GatewayClient against the Twilio REST
// API, honoring the per-tenant credential override documented for the
// gateway client.
package twilio

import (
	"context"
	"fmt"

	"github.com/sengine/drip-engine/internal/phone"
	"github.com/sengine/drip-engine/internal/ports"
	twilioSDK "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Client wraps the default twilio-go REST client, building a fresh
// per-call client when tenant credentials are supplied.
type Client struct {
	defaultAccountSID string
	defaultAuthToken  string
	defaultClient     *twilioSDK.RestClient
}

// New builds a Client using the process-wide account credentials as the
// fallback for calls without a tenant override.
func New(accountSID, authToken string) *Client {
	return &Client{
		defaultAccountSID: accountSID,
		defaultAuthToken:  authToken,
		defaultClient: twilioSDK.NewRestClientWithParams(twilioSDK.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
	}
}

// Send submits an SMS/MMS through the Twilio Messages resource. Network
// and protocol errors are mapped into a failed SendResult instead of
// escaping, per the gateway client's no-exception contract.
func (c *Client) Send(ctx context.Context, req ports.SendRequest) (ports.SendResult, error) {
	rest := c.defaultClient
	if req.ProviderAccountID != "" && req.ProviderAuthToken != "" {
		rest = twilioSDK.NewRestClientWithParams(twilioSDK.ClientParams{
			Username: req.ProviderAccountID,
			Password: req.ProviderAuthToken,
		})
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(phone.Normalize(req.From))
	params.SetTo(phone.Normalize(req.To))
	params.SetBody(req.Body)
	if req.MediaURL != "" {
		params.SetMediaUrl([]string{req.MediaURL})
	}
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
	}

	resp, err := rest.Api.CreateMessage(params)
	if err != nil {
		return ports.SendResult{ErrorMessage: err.Error()}, nil
	}

	result := ports.SendResult{}
	if resp.Sid != nil {
		result.ProviderMessageID = *resp.Sid
	}
	if resp.NumSegments != nil {
		fmt.Sscanf(*resp.NumSegments, "%d", &result.SegmentCount)
	}
	if resp.NumMedia != nil {
		fmt.Sscanf(*resp.NumMedia, "%d", &result.MediaCount)
	}
	if resp.ErrorCode != nil {
		result.ErrorCode = fmt.Sprintf("%d", *resp.ErrorCode)
	}
	if resp.ErrorMessage != nil {
		result.ErrorMessage = *resp.ErrorMessage
	}

	return result, nil
}
