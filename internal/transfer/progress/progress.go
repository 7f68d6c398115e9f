package progress

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// Parse extracts the trailing percentage from a line of tool output.
// Fractions are truncated and values above 100 are clamped.
func Parse(line string) (int, bool) {
	matches := percentPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}

	v, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0, false
	}

	return int(math.Min(v, 100)), true
}

// Sample is a progress observation worth reporting.
type Sample struct {
	Percent    int
	SpeedMBps  float64
	ETASeconds int
}

// Tracker derives throughput and ETA from percentages of a known total size
// and suppresses observations that do not advance by at least one point.
type Tracker struct {
	sizeMB float64
	start  time.Time
	last   int
	now    func() time.Time
}

// NewTracker starts tracking an attempt of an artifact with the declared size.
func NewTracker(sizeGB float64) *Tracker {
	t := &Tracker{sizeMB: sizeGB * 1024, now: time.Now}
	t.start = t.now()

	return t
}

// Last returns the last reported percentage.
func (t *Tracker) Last() int {
	return t.last
}

// Observe records a percentage and returns a Sample if it exceeds the last
// reported value by at least one point.
func (t *Tracker) Observe(percent int) (Sample, bool) {
	if percent-t.last < 1 {
		return Sample{}, false
	}

	t.last = percent

	elapsed := t.now().Sub(t.start).Seconds()
	downloadedMB := float64(percent) / 100 * t.sizeMB

	var speed float64
	if elapsed > 0 {
		speed = downloadedMB / elapsed
	}

	var eta int
	if speed > 0 {
		eta = int((t.sizeMB - downloadedMB) / speed)
	}

	return Sample{
		Percent:    percent,
		SpeedMBps:  math.Round(speed*100) / 100,
		ETASeconds: eta,
	}, true
}
