package stereo

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is an unreadable or corrupt raster.
	ErrIO = errors.New("raster i/o")

	// ErrInsufficientCorrespondences means the interest points can't
	// pin down the requested alignment: too few of them, or degenerate.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")

	ErrUnsupportedPolicy = errors.New("unsupported policy")
	ErrNotImplemented    = fmt.Errorf("%w: not implemented", ErrUnsupportedPolicy)

	ErrConfiguration = errors.New("configuration error")
)

// The states of a preprocessing run, in the order they happen.
type State int

const (
	StateCheckCache State = iota
	StateCrop
	StateEstimateNoData
	StateMask
	StateAlign
	StateWarp
	StateNormalize
	StateWrite
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCheckCache:
		return "CHECK_CACHE"
	case StateCrop:
		return "CROP"
	case StateEstimateNoData:
		return "ESTIMATE_NODATA"
	case StateMask:
		return "MASK"
	case StateAlign:
		return "ALIGN"
	case StateWarp:
		return "WARP"
	case StateNormalize:
		return "NORMALIZE"
	case StateWrite:
		return "WRITE"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// A StageError is how a failed run reports which state it died in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s State, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: s, Err: err}
}

// ioErr tags err as ErrIO, unless it already carries one of our sentinels.
func ioErr(err error) error {
	if err == nil || errors.Is(err, ErrIO) || errors.Is(err, ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
