package remote

import (
	"context"
	"net/http"

	"github.com/rafaeljc/heimdall-sdk/internal/apply"
)

const applyEndpoint = "/v1/flags:apply"

type appliedFlag struct {
	Flag      string `json:"flag"`
	ApplyTime string `json:"applyTime"`
}

type applyRequest struct {
	Flags        []appliedFlag `json:"flags"`
	SendTime     string        `json:"sendTime"`
	ClientSecret string        `json:"clientSecret"`
	ResolveToken string        `json:"resolveToken"`
	SDK          SDK           `json:"sdk"`
}

// Apply implements apply.Client. Any non-2xx status is a failure.
func (c *Client) Apply(ctx context.Context, applied []apply.AppliedFlag, resolveToken string) error {
	body := applyRequest{
		Flags:        make([]appliedFlag, len(applied)),
		SendTime:     formatTime(c.now()),
		ClientSecret: c.secret,
		ResolveToken: resolveToken,
		SDK:          c.sdk,
	}
	for i, f := range applied {
		body.Flags[i] = appliedFlag{Flag: flagPrefix + f.Flag, ApplyTime: formatTime(f.ApplyTime)}
	}

	resp, err := c.post(ctx, applyEndpoint, body, http.Header{})
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(applyEndpoint, resp)
	}
	return nil
}
