package fetch

import "time"

type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusStaleError Status = "stale_error"
)

// State is a snapshot of a controller. Data is only meaningful when HasData
// is true.
type State[T any] struct {
	Data      T
	HasData   bool
	Loading   bool
	Err       error
	Stale     bool
	RequestID uint64
	UpdatedAt time.Time
}

func (s State[T]) Status() Status {
	switch {
	case s.Loading:
		return StatusLoading
	case s.Err != nil && s.Stale:
		return StatusStaleError
	case s.Err != nil:
		return StatusError
	case s.HasData:
		return StatusSuccess
	default:
		return StatusIdle
	}
}
