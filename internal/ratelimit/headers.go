package ratelimit

import (
	"net/http"
	"regexp"
	"strconv"
)

// limitHeaderPattern matches "n1,n2;w=seconds" loosely, tolerating
// whatever separators a server variant puts between the numbers. If a
// server emits a different format, policy learning silently skips.
var limitHeaderPattern = regexp.MustCompile(`(\d+)[^\d]+(\d+)[^\d]+w=(\d+)`)

// HeaderUpdate carries the subset of response headers the limiter cares
// about.
type HeaderUpdate struct {
	// LimitN1, LimitN2, LimitWindowSecs come from x-ratelimit-limit, parsed
	// on every call (Learned reports whether parsing succeeded this call);
	// the limiter applies them only the first time Learned is true.
	Learned         bool
	LimitN1         int
	LimitN2         int
	LimitWindowSecs int

	HasRemaining bool
	Remaining    int

	HasReset  bool
	ResetSecs int
}

// ParseHeaders extracts a HeaderUpdate from an HTTP response's headers.
// Any field the response does not carry is left at its zero value with
// its Has*/Learned flag false.
func ParseHeaders(h http.Header) HeaderUpdate {
	var u HeaderUpdate

	if raw := h.Get("x-ratelimit-limit"); raw != "" {
		if m := limitHeaderPattern.FindStringSubmatch(raw); m != nil {
			n1, err1 := strconv.Atoi(m[1])
			n2, err2 := strconv.Atoi(m[2])
			w, err3 := strconv.Atoi(m[3])
			if err1 == nil && err2 == nil && err3 == nil {
				u.Learned = true
				u.LimitN1, u.LimitN2, u.LimitWindowSecs = n1, n2, w
			}
		}
	}

	if raw := h.Get("x-ratelimit-remaining"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			u.HasRemaining = true
			u.Remaining = n
		}
	}

	if raw := h.Get("x-ratelimit-reset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			u.HasReset = true
			u.ResetSecs = n
		}
	}

	return u
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
