// Package catalog selects the Masterdata files a run extracts.
package catalog

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Window is an inclusive creation-time interval. A zero End leaves the
// window open towards the future.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds the extraction window. A zero end means now.
func NewWindow(clock clockwork.Clock, end time.Time, interval time.Duration) Window {
	if end.IsZero() {
		end = clock.Now()
	}
	end = end.UTC()
	return Window{Start: end.Add(-interval), End: end}
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || !t.After(w.End)
}

func (w Window) String() string {
	end := "open"
	if !w.End.IsZero() {
		end = w.End.Format(time.RFC3339)
	}
	return "[" + w.Start.Format(time.RFC3339) + ", " + end + "]"
}
