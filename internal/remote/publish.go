package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rafaeljc/heimdall-sdk/internal/events"
)

const publishEndpoint = "/v1/events:publish"

type publishedEvent struct {
	EventDefinition string         `json:"eventDefinition"`
	EventTime       string         `json:"eventTime"`
	Payload         map[string]any `json:"payload"`
}

type publishRequest struct {
	ClientSecret string           `json:"clientSecret"`
	Events       []publishedEvent `json:"events"`
	SendTime     string           `json:"sendTime"`
	SDK          SDK              `json:"sdk"`
}

type publishResponse struct {
	Errors []struct {
		Index  int    `json:"index"`
		Reason string `json:"reason"`
	} `json:"errors"`
}

// Upload implements events.Uploader. Events the backend rejects one by one
// are logged and dropped with the rest of the batch.
func (c *Client) Upload(ctx context.Context, batch []events.Event) error {
	body := publishRequest{
		ClientSecret: c.secret,
		Events:       make([]publishedEvent, len(batch)),
		SendTime:     formatTime(c.now()),
		SDK:          c.sdk,
	}
	for i, e := range batch {
		body.Events[i] = publishedEvent{
			EventDefinition: e.Definition,
			EventTime:       formatTime(e.Time),
			Payload:         e.Payload.Plain(),
		}
	}

	resp, err := c.post(ctx, publishEndpoint, body, http.Header{})
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(publishEndpoint, resp)
	}

	var parsed publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil && len(parsed.Errors) > 0 {
		for _, rejected := range parsed.Errors {
			c.logger.Warn("event rejected by backend",
				slog.Int("index", rejected.Index),
				slog.String("reason", rejected.Reason),
			)
		}
	}
	return nil
}
