package mpmetrics

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is the wall-clock source metrics use for `_created` timestamps
// and Gauge.SetToCurrentTime. Exemplar timestamps are not read from it:
// they are taken from the caller's Exemplar.Timestamp. Overridable for tests
// the way the pack's own code injects a benbjohnson/clock.Clock instead
// of calling time.Now() directly.
var Clock clock.Clock = clock.New()

func nowFloat() float64 {
	return float64(Clock.Now().UnixNano()) / 1e9
}

func unixFloatToTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*1e9))
}
