package client

import (
	"maps"

	"github.com/rafaeljc/heimdall-sdk/internal/value"
)

// layer is one immutable level of context. Reads resolve the parent first,
// then drop removals, then apply overrides.
type layer struct {
	overrides value.Struct
	removals  map[string]struct{}
}

func newLayer(initial value.Struct) *layer {
	return &layer{overrides: initial.Clone(), removals: map[string]struct{}{}}
}

func (l *layer) put(key string, v value.Value) *layer {
	next := l.copy()
	next.overrides[key] = v
	delete(next.removals, key)
	return next
}

func (l *layer) remove(key string) *layer {
	next := l.copy()
	delete(next.overrides, key)
	next.removals[key] = struct{}{}
	return next
}

func (l *layer) copy() *layer {
	return &layer{overrides: l.overrides.Clone(), removals: maps.Clone(l.removals)}
}

// over merges the layer on top of base, which it owns.
func (l *layer) over(base value.Struct) value.Struct {
	for k := range l.removals {
		delete(base, k)
	}
	for k, v := range l.overrides {
		base[k] = v
	}
	return base
}

// equal reports whether both layers hold the same overrides and removals.
func (l *layer) equal(o *layer) bool {
	return l.overrides.Equal(o.overrides) && maps.Equal(l.removals, o.removals)
}
