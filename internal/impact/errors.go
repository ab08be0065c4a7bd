package impact

import "errors"

// Error taxonomy shared across packages. Callers wrap these with fmt.Errorf and
// test with errors.Is.
var (
	ErrFetch           = errors.New("fetch failed")
	ErrScore           = errors.New("score failed")
	ErrStore           = errors.New("store failed")
	ErrQueueFull       = errors.New("queue full")
	ErrDuplicate       = errors.New("already queued")
	ErrNotFound        = errors.New("not found")
	ErrUnknownPlatform = errors.New("unknown platform")
)
