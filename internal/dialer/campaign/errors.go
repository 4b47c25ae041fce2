package campaign

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTarget is returned by ClaimNextTarget when the label has no
	// callable target left. It ends a campaign normally.
	ErrNoTarget = errors.New("no target for label")

	// ErrCampaignRunning is returned by Start while a campaign is active
	ErrCampaignRunning = errors.New("campaign already running")

	// ErrSkipLimit reports too many consecutive undialable targets
	ErrSkipLimit = errors.New("too many undialable targets in a row")

	// ErrInvalidLabel is returned by Start without a label id
	ErrInvalidLabel = errors.New("label id is required")
)

// StopError describes an abnormal campaign termination.
type StopError struct {
	LabelID string
	Cycles  int
	Err     error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("campaign %s stopped after %d claims: %v", e.LabelID, e.Cycles, e.Err)
}

func (e *StopError) Unwrap() error {
	return e.Err
}
