package flags

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by Resolve when no resolution could be obtained.
var ErrNotReady = errors.New("flags: no resolution available")

// FlagNotFoundError reports a flag name absent from the current resolution.
// It indicates a programming error in the caller, so it is returned as a
// hard error rather than folded into the evaluation result.
type FlagNotFoundError struct {
	Flag string
}

func (e *FlagNotFoundError) Error() string {
	return "Could not find flag named: " + e.Flag
}

// ParseError reports a value path that does not resolve inside the flag.
type ParseError struct {
	Path string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Unable to parse flag value: %s", e.Path)
}
