package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Gateway dispatches push notifications to an external gateway. Failures are
// logged and otherwise ignored; push is a best-effort side channel and must
// never block message delivery.
type Gateway interface {
	Send(ctx context.Context, playerID, title, body string, metadata map[string]string) error
}

// OneSignalGateway talks to a OneSignal-compatible HTTP endpoint.
type OneSignalGateway struct {
	endpoint string
	appID    string
	apiKey   string
	client   *http.Client
}

// NewOneSignalGateway constructs a gateway client with a bounded timeout.
func NewOneSignalGateway(endpoint, appID, apiKey string) *OneSignalGateway {
	return &OneSignalGateway{
		endpoint: endpoint,
		appID:    appID,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type notificationPayload struct {
	AppID          string            `json:"app_id"`
	PlayerIDs      []string          `json:"include_player_ids"`
	Headings       map[string]string `json:"headings"`
	Contents       map[string]string `json:"contents"`
	AdditionalData map[string]string `json:"data,omitempty"`
}

// Send posts one notification to the gateway.
func (g *OneSignalGateway) Send(ctx context.Context, playerID, title, body string, metadata map[string]string) error {
	payload := notificationPayload{
		AppID:          g.appID,
		PlayerIDs:      []string{playerID},
		Headings:       map[string]string{"en": title},
		Contents:       map[string]string{"en": body},
		AdditionalData: metadata,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push gateway error (status %d): %s", resp.StatusCode, string(respBody))
	}

	log.Debug().Str("player_id", playerID).Msg("push notification dispatched")
	return nil
}
