package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rafaeljc/heimdall-sdk/internal/flags"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

const (
	resolveEndpoint = "/v1/flags:resolve"
	flagPrefix      = "flags/"
)

type resolveRequest struct {
	Flags             []string       `json:"flags"`
	EvaluationContext map[string]any `json:"evaluationContext"`
	ClientSecret      string         `json:"clientSecret"`
	Apply             bool           `json:"apply"`
	SDK               SDK            `json:"sdk"`
}

type resolvedFlag struct {
	Flag    string          `json:"flag"`
	Variant string          `json:"variant"`
	Value   json.RawMessage `json:"value"`
	Reason  string          `json:"reason"`
}

type resolveResponse struct {
	ResolvedFlags []resolvedFlag `json:"resolvedFlags"`
	ResolveToken  string         `json:"resolveToken"`
}

// Resolve implements flags.Resolver. The previous token travels as
// If-None-Match and a 304 answer becomes NotModified.
func (c *Client) Resolve(ctx context.Context, req flags.ResolveRequest) (flags.ResolveResult, error) {
	names := make([]string, len(req.Flags))
	for i, n := range req.Flags {
		names[i] = flagPrefix + n
	}

	header := http.Header{}
	if req.LastResolveToken != "" {
		header.Set("If-None-Match", req.LastResolveToken)
	}

	resp, err := c.post(ctx, resolveEndpoint, resolveRequest{
		Flags:             names,
		EvaluationContext: req.Context.Plain(),
		ClientSecret:      c.secret,
		Apply:             false,
		SDK:               c.sdk,
	}, header)
	if err != nil {
		return flags.ResolveResult{}, err
	}
	defer drainAndClose(resp)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return flags.ResolveResult{NotModified: true}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return flags.ResolveResult{}, statusError(resolveEndpoint, resp)
	}

	var body resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return flags.ResolveResult{}, fmt.Errorf("remote: decode resolve response: %w", err)
	}

	out := flags.ResolveResult{
		Flags: make([]flags.ResolvedFlag, 0, len(body.ResolvedFlags)),
		Token: body.ResolveToken,
	}
	for _, rf := range body.ResolvedFlags {
		v := value.Struct{}
		if len(rf.Value) > 0 {
			v, err = value.DecodePlainStruct(rf.Value)
			if err != nil {
				return flags.ResolveResult{}, fmt.Errorf("remote: flag %s: %w", rf.Flag, err)
			}
		}
		out.Flags = append(out.Flags, flags.ResolvedFlag{
			Name:    strings.TrimPrefix(rf.Flag, flagPrefix),
			Variant: rf.Variant,
			Value:   v,
			Reason:  flags.ResolveReason(rf.Reason),
		})
	}
	return out, nil
}
