package transcode

import (
	"strconv"
	"strings"
)

// ProgressFunc receives the completion percentage of a running transcode.
// Calls are made from the transcoder's goroutine and only with increasing values.
type ProgressFunc func(percent int)

// progressTracker turns ffmpeg "-progress" key=value lines into percentages
// of the probed source duration.
type progressTracker struct {
	totalMicros float64
	report      ProgressFunc
	last        int
}

func newProgressTracker(durationSeconds float64, report ProgressFunc) *progressTracker {
	return &progressTracker{totalMicros: durationSeconds * 1e6, report: report}
}

func (p *progressTracker) line(s string) {
	key, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return
	}
	switch key {
	// out_time_ms carries microseconds as well, an old ffmpeg naming quirk.
	case "out_time_us", "out_time_ms":
		if p.totalMicros <= 0 {
			return
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return
		}
		// 100 is reserved for progress=end.
		p.emit(min(int(float64(us)/p.totalMicros*100), 99))
	case "progress":
		if value == "end" {
			p.emit(100)
		}
	}
}

func (p *progressTracker) emit(percent int) {
	if percent <= p.last {
		return
	}
	p.last = percent
	if p.report != nil {
		p.report(percent)
	}
}
