// Package calendar aligns trade timestamps to candle windows.
//
// Alignment is done in integer Unix seconds, never by decomposing calendar
// fields, so a 1h window always starts at xx:00:00 UTC regardless of the
// timestamp's original time zone.
package calendar

import (
	"fmt"
	"time"
)

// Interval is one of the five fixed candle widths the service supports.
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
)

// All lists every supported interval, narrowest first.
var All = []Interval{Interval1s, Interval1m, Interval5m, Interval15m, Interval1h}

var durations = map[Interval]time.Duration{
	Interval1s:  time.Second,
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
}

// Duration returns the fixed duration of the interval.
func (i Interval) Duration() time.Duration {
	d, ok := durations[i]
	if !ok {
		panic(fmt.Sprintf("calendar: unknown interval %q", string(i)))
	}
	return d
}

// Valid reports whether i is one of the five recognized textual forms.
func (i Interval) Valid() bool {
	_, ok := durations[i]
	return ok
}

func (i Interval) String() string { return string(i) }

// ErrInvalidInterval is returned by Parse for any name outside the five
// accepted textual forms.
type ErrInvalidInterval struct{ Name string }

func (e *ErrInvalidInterval) Error() string {
	return fmt.Sprintf("calendar: invalid interval %q", e.Name)
}

// Parse maps a wire-form interval name ("1s", "1m", "5m", "15m", "1h") to an
// Interval, or returns an *ErrInvalidInterval.
func Parse(name string) (Interval, error) {
	i := Interval(name)
	if !i.Valid() {
		return "", &ErrInvalidInterval{Name: name}
	}
	return i, nil
}

// Align returns the greatest multiple of the interval's duration since the
// Unix epoch that is less than or equal to t, i.e. the start of the candle
// window containing t. Windows are half-open: [start, start+d).
func Align(t time.Time, i Interval) time.Time {
	d := int64(i.Duration() / time.Second)
	secs := t.Unix()
	aligned := secs - (secs % d)
	if secs < 0 && secs%d != 0 {
		// Unix seconds before 1970 for completeness; floor instead of
		// truncate-toward-zero.
		aligned -= d
	}
	return time.Unix(aligned, 0).UTC()
}

// Next returns the start of the window immediately following the window
// containing t.
func Next(t time.Time, i Interval) time.Time {
	return Align(t, i).Add(i.Duration())
}
