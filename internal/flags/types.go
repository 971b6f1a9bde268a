// Package flags holds the flag resolution cache and the evaluation of flag
// value paths against it.
package flags

import (
	"context"

	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// ResolveReason is the backend's explanation for a resolved flag.
type ResolveReason string

const (
	ResolveReasonUnspecified       ResolveReason = "RESOLVE_REASON_UNSPECIFIED"
	ResolveReasonMatch             ResolveReason = "RESOLVE_REASON_MATCH"
	ResolveReasonNoSegmentMatch    ResolveReason = "RESOLVE_REASON_NO_SEGMENT_MATCH"
	ResolveReasonNoTreatmentMatch  ResolveReason = "RESOLVE_REASON_NO_TREATMENT_MATCH"
	ResolveReasonArchived          ResolveReason = "RESOLVE_REASON_FLAG_ARCHIVED"
	ResolveReasonTargetingKeyError ResolveReason = "RESOLVE_REASON_TARGETING_KEY_ERROR"
	ResolveReasonError             ResolveReason = "RESOLVE_REASON_ERROR"
)

// ResolvedFlag is one flag of a resolution.
type ResolvedFlag struct {
	Name    string        `json:"name"`
	Variant string        `json:"variant,omitempty"`
	Value   value.Struct  `json:"value"`
	Reason  ResolveReason `json:"reason"`
}

// Resolution is an immutable resolve result together with the evaluation
// context that produced it.
type Resolution struct {
	flags   []ResolvedFlag
	index   map[string]int
	token   string
	context value.Struct
}

// NewResolution indexes flags by name. Later duplicates win.
func NewResolution(flags []ResolvedFlag, token string, evalCtx value.Struct) *Resolution {
	r := &Resolution{
		flags:   make([]ResolvedFlag, len(flags)),
		index:   make(map[string]int, len(flags)),
		token:   token,
		context: evalCtx.Clone(),
	}
	for i, f := range flags {
		f.Value = f.Value.Clone()
		r.flags[i] = f
		r.index[f.Name] = i
	}
	return r
}

func (r *Resolution) Token() string { return r.token }

// Context returns a copy of the context the resolution was made for.
func (r *Resolution) Context() value.Struct { return r.context.Clone() }

// Flags returns a copy of the resolved flags.
func (r *Resolution) Flags() []ResolvedFlag {
	out := make([]ResolvedFlag, len(r.flags))
	copy(out, r.flags)
	return out
}

// Flag looks up a flag by name.
func (r *Resolution) Flag(name string) (ResolvedFlag, bool) {
	i, ok := r.index[name]
	if !ok {
		return ResolvedFlag{}, false
	}
	return r.flags[i], true
}

// MatchesContext reports whether evalCtx is exactly the context of this resolution.
func (r *Resolution) MatchesContext(evalCtx value.Struct) bool {
	return r.context.Equal(evalCtx)
}

// ResolveRequest asks the backend for flag values. An empty Flags slice means all flags.
type ResolveRequest struct {
	Flags   []string
	Context value.Struct
	// LastResolveToken lets the backend answer NotModified.
	LastResolveToken string
}

// ResolveResult is either a fresh resolution or a NotModified answer.
type ResolveResult struct {
	Flags       []ResolvedFlag
	Token       string
	NotModified bool
}

// Resolver fetches resolutions from the backend.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, req ResolveRequest) (ResolveResult, error)

func (f ResolverFunc) Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	return f(ctx, req)
}

// Applier receives one call per successful evaluation.
type Applier interface {
	Apply(flagName, resolveToken string)
}
