package status

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	MinCode = 100
	MaxCode = 999
)

type codeRange struct {
	lo, hi int
}

// CodeSet is a set of HTTP status codes made of inclusive ranges.
type CodeSet struct {
	ranges []codeRange
}

// DefaultAccept is the conventional success range.
func DefaultAccept() CodeSet {
	return CodeSet{ranges: []codeRange{{100, 103}, {200, 299}}}
}

// NewCodeSet builds a set from single codes.
func NewCodeSet(codes ...int) CodeSet {
	s := CodeSet{}
	for _, c := range codes {
		s.ranges = append(s.ranges, codeRange{c, c})
	}
	return s
}

// ParseCodeSet parses a comma separated list of codes and ranges. Ranges are
// written "200..=299", "200..300" (exclusive end) or "200-299".
func ParseCodeSet(s string) (CodeSet, error) {
	var set CodeSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := parseRange(part)
		if err != nil {
			return CodeSet{}, err
		}
		set.ranges = append(set.ranges, r)
	}
	sort.Slice(set.ranges, func(i, j int) bool { return set.ranges[i].lo < set.ranges[j].lo })
	return set, nil
}

func parseRange(part string) (codeRange, error) {
	var (
		lo, hi    string
		exclusive bool
	)
	switch {
	case strings.Contains(part, "..="):
		lo, hi, _ = strings.Cut(part, "..=")
	case strings.Contains(part, ".."):
		lo, hi, _ = strings.Cut(part, "..")
		exclusive = true
	case strings.Contains(part, "-"):
		lo, hi, _ = strings.Cut(part, "-")
	default:
		c, err := parseCode(part)
		if err != nil {
			return codeRange{}, err
		}
		return codeRange{c, c}, nil
	}

	l, err := parseCode(lo)
	if err != nil {
		return codeRange{}, err
	}
	h, err := parseCode(hi)
	if err != nil {
		return codeRange{}, err
	}
	if exclusive {
		h--
	}
	if h < l {
		return codeRange{}, fmt.Errorf("invalid status code range %q", part)
	}
	return codeRange{l, h}, nil
}

func parseCode(s string) (int, error) {
	c, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid status code %q: %w", s, err)
	}
	if c < MinCode || c > MaxCode {
		return 0, fmt.Errorf("status code %d out of range %d..=%d", c, MinCode, MaxCode)
	}
	return c, nil
}

func (s CodeSet) Contains(code int) bool {
	for _, r := range s.ranges {
		if code >= r.lo && code <= r.hi {
			return true
		}
	}
	return false
}

func (s CodeSet) IsEmpty() bool {
	return len(s.ranges) == 0
}

func (s CodeSet) String() string {
	parts := make([]string, 0, len(s.ranges))
	for _, r := range s.ranges {
		if r.lo == r.hi {
			parts = append(parts, strconv.Itoa(r.lo))
		} else {
			parts = append(parts, fmt.Sprintf("%d..=%d", r.lo, r.hi))
		}
	}
	return strings.Join(parts, ",")
}
