package agent

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/heimdall-sdk/internal/flags"
)

// TrackRequest is the body of POST /v1/events.
type TrackRequest struct {
	Name    string          `json:"name"`
	Message json.RawMessage `json:"message,omitempty"`
}

// EvaluateRequest is the body of POST /v1/flags:evaluate. The JSON type of
// Default selects the typed evaluator; an absent default returns the raw value.
type EvaluateRequest struct {
	Flag    string          `json:"flag"`
	Default json.RawMessage `json:"default,omitempty"`
}

// EvaluateResponse mirrors flags.Evaluation with a plain JSON value.
type EvaluateResponse struct {
	Flag         string          `json:"flag"`
	Value        any             `json:"value"`
	Variant      string          `json:"variant,omitempty"`
	Reason       flags.Reason    `json:"reason"`
	ErrorCode    flags.ErrorCode `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func renderError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}
