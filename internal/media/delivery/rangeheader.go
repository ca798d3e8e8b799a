package delivery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

// ByteRange is a single requested span. End is inclusive and -1 means "to the end".
// A positive SuffixLength selects the last SuffixLength bytes instead.
type ByteRange struct {
	Start        int64
	End          int64
	SuffixLength int64
}

// Resolve clamps r against an object of total bytes and returns inclusive bounds.
// A nil range selects the whole object.
func (r *ByteRange) Resolve(total int64) (start, end int64, err error) {
	if r == nil {
		return 0, total - 1, nil
	}
	if total <= 0 {
		return 0, 0, models.ErrRangeNotSatisfiable
	}
	if r.SuffixLength > 0 {
		n := min(r.SuffixLength, total)
		return total - n, total - 1, nil
	}
	if r.Start < 0 || r.Start >= total {
		return 0, 0, models.ErrRangeNotSatisfiable
	}
	end = r.End
	if end < 0 || end >= total {
		end = total - 1
	}
	if end < r.Start {
		return 0, 0, models.ErrRangeNotSatisfiable
	}
	return r.Start, end, nil
}

// ParseRange parses a Range header value. An empty header yields (nil, nil).
// Only the first range of a multi-range request is honored. Malformed headers
// return models.ErrInvalidArgument and should be ignored by HTTP callers.
func ParseRange(header string) (*ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, fmt.Errorf("%w: unsupported range unit in %q", models.ErrInvalidArgument, header)
	}
	if first, _, multi := strings.Cut(rangeSet, ","); multi {
		rangeSet = first
	}
	rangeSet = strings.TrimSpace(rangeSet)

	startStr, endStr, ok := strings.Cut(rangeSet, "-")
	if !ok {
		return nil, fmt.Errorf("%w: malformed range %q", models.ErrInvalidArgument, rangeSet)
	}

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: malformed suffix range %q", models.ErrInvalidArgument, rangeSet)
		}
		return &ByteRange{SuffixLength: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: malformed range start %q", models.ErrInvalidArgument, rangeSet)
	}
	if endStr == "" {
		return &ByteRange{Start: start, End: -1}, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return nil, fmt.Errorf("%w: malformed range end %q", models.ErrInvalidArgument, rangeSet)
	}
	return &ByteRange{Start: start, End: end}, nil
}

// ContentRange formats a Content-Range header value for a served span.
func ContentRange(start, end, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// UnsatisfiedRange formats the Content-Range value of a 416 response.
func UnsatisfiedRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}
