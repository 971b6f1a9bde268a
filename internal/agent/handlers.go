package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/heimdall-sdk/internal/client"
	"github.com/rafaeljc/heimdall-sdk/internal/events"
	"github.com/rafaeljc/heimdall-sdk/internal/flags"
	"github.com/rafaeljc/heimdall-sdk/internal/logger"
	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// handleTrack processes POST /v1/events. The event is durable once the
// response is sent; the upload happens later.
func (a *API) handleTrack(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req TrackRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		renderError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Event name is required")
		return
	}

	message := value.Struct{}
	if len(req.Message) > 0 && string(req.Message) != "null" {
		decoded, err := value.DecodePlainStruct(req.Message)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Message must be a JSON object")
			return
		}
		message = decoded
	}

	if err := a.client.Track(req.Name, message); err != nil {
		if isStopped(err) {
			renderError(w, r, http.StatusServiceUnavailable, "ERR_STOPPED", "Agent is shutting down")
			return
		}
		if errors.Is(err, events.ErrEventTooLarge) {
			renderError(w, r, http.StatusRequestEntityTooLarge, "ERR_TOO_LARGE", "Event too large")
			return
		}
		log.Error("failed to track event", slog.String("event", req.Name), slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Failed to store event")
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "accepted"})
}

func (a *API) handleGetContext(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, a.client.Context().Plain())
}

// handlePutContext merges the body into the context. Null fields remove keys.
func (a *API) handlePutContext(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	delta, err := value.DecodePlainStruct(body)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Context must be a JSON object")
		return
	}

	puts := value.Struct{}
	var removals []string
	for k, v := range delta {
		if v.IsNull() {
			removals = append(removals, k)
		} else {
			puts[k] = v
		}
	}
	a.client.PutContextMap(puts)
	for _, k := range removals {
		a.client.RemoveContext(k)
	}

	render.JSON(w, r, a.client.Context().Plain())
}

func (a *API) handleRemoveContext(w http.ResponseWriter, r *http.Request) {
	a.client.RemoveContext(chi.URLParam(r, "key"))
	render.NoContent(w, r)
}

// handleEvaluate processes POST /v1/flags:evaluate.
// Unknown flags answer 404 and unresolvable paths 422; soft failures are
// reported in the body with status 200.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Flag == "" {
		renderError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Flag is required")
		return
	}

	def := value.Null()
	if len(req.Default) > 0 {
		decoded, err := value.DecodePlain(req.Default)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, "ERR_INVALID_INPUT", "Default is not valid JSON")
			return
		}
		def = decoded
	}

	resp, err := a.evaluate(req.Flag, def)

	var notFound *flags.FlagNotFoundError
	var parseErr *flags.ParseError
	switch {
	case errors.As(err, &notFound):
		renderError(w, r, http.StatusNotFound, "ERR_FLAG_NOT_FOUND", err.Error())
	case errors.As(err, &parseErr):
		renderError(w, r, http.StatusUnprocessableEntity, "ERR_PARSE", err.Error())
	case err != nil:
		logger.FromContext(r.Context()).Error("flag evaluation failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Evaluation failed")
	default:
		render.JSON(w, r, resp)
	}
}

// evaluate picks the typed evaluator matching the kind of def.
func (a *API) evaluate(path string, def value.Value) (EvaluateResponse, error) {
	switch def.Kind() {
	case value.KindString:
		d, _ := def.AsString()
		return respond(path, d, a.client.EvaluateString, identity[string])
	case value.KindBoolean:
		d, _ := def.AsBool()
		return respond(path, d, a.client.EvaluateBool, identity[bool])
	case value.KindInteger:
		d, _ := def.AsInt()
		return respond(path, d, a.client.EvaluateInt, identity[int64])
	case value.KindDouble:
		d, _ := def.AsDouble()
		return respond(path, d, a.client.EvaluateDouble, identity[float64])
	case value.KindStruct:
		d, _ := def.AsStruct()
		return respond(path, d, a.client.EvaluateStruct, func(s value.Struct) any { return s.Plain() })
	default:
		return respond(path, def, a.client.EvaluateValue, value.Value.Plain)
	}
}

func identity[T any](v T) any { return v }

func respond[T any](path string, def T, eval func(string, T) (flags.Evaluation[T], error), plain func(T) any) (EvaluateResponse, error) {
	e, err := eval(path, def)
	if err != nil {
		return EvaluateResponse{}, err
	}
	return EvaluateResponse{
		Flag:         path,
		Value:        plain(e.Value),
		Variant:      e.Variant,
		Reason:       e.Reason,
		ErrorCode:    e.ErrorCode,
		ErrorMessage: e.ErrorMessage,
	}, nil
}

// handleFlush seals the current segment and waits for the upload pass.
func (a *API) handleFlush(w http.ResponseWriter, r *http.Request) {
	err := a.client.Flush(r.Context())
	switch {
	case err == nil:
		render.JSON(w, r, map[string]string{"status": "flushed"})
	case isStopped(err):
		renderError(w, r, http.StatusServiceUnavailable, "ERR_STOPPED", "Agent is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		renderError(w, r, http.StatusGatewayTimeout, "ERR_TIMEOUT", "Flush did not complete in time")
	default:
		logger.FromContext(r.Context()).Error("flush failed", slog.String("error", err.Error()))
		renderError(w, r, http.StatusInternalServerError, "ERR_INTERNAL", "Flush failed")
	}
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		a.rejectBody(w, r, err)
		return false
	}
	return true
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.rejectBody(w, r, err)
		return nil, false
	}
	return body, true
}

func (a *API) rejectBody(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		renderError(w, r, http.StatusRequestEntityTooLarge, "ERR_TOO_LARGE", "Request body too large")
		return
	}
	logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
	renderError(w, r, http.StatusBadRequest, "ERR_INVALID_JSON", "Invalid JSON payload: "+err.Error())
}

func isStopped(err error) bool {
	return errors.Is(err, client.ErrStopped) || errors.Is(err, events.ErrStopped)
}
