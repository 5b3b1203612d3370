package domain

import (
	"strconv"
	"strings"
)

// ByteWindow is an inclusive [Start, End] byte range into a resource.
type ByteWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (w ByteWindow) Len() int64 {
	return w.End - w.Start + 1
}

// Covers reports whether the window spans the whole resource.
func (w ByteWindow) Covers(total int64) bool {
	return w.Start == 0 && w.End >= total-1
}

// ContentRange formats the Content-Range header value for the window.
func (w ByteWindow) ContentRange(total int64) string {
	return "bytes " + strconv.FormatInt(w.Start, 10) + "-" + strconv.FormatInt(w.End, 10) + "/" + strconv.FormatInt(total, 10)
}

// UnsatisfiedContentRange is the Content-Range value sent with a 416.
func UnsatisfiedContentRange(total int64) string {
	return "bytes */" + strconv.FormatInt(total, 10)
}

// ResolveRange turns a Range header into a read window of at most maxChunk
// bytes. An empty header selects the first chunk, never the whole resource.
// Multi-range and malformed headers are reported as ErrRangeNotSatisfiable.
func ResolveRange(header string, total, maxChunk int64) (ByteWindow, error) {
	if total <= 0 {
		return ByteWindow{}, nil
	}
	if maxChunk <= 0 || maxChunk > total {
		maxChunk = total
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return ByteWindow{Start: 0, End: maxChunk - 1}, nil
	}

	const unit = "bytes="
	if len(header) < len(unit) || !strings.EqualFold(header[:len(unit)], unit) {
		return ByteWindow{}, ErrRangeNotSatisfiable
	}
	set := strings.TrimSpace(header[len(unit):])
	if set == "" || strings.Contains(set, ",") {
		return ByteWindow{}, ErrRangeNotSatisfiable
	}
	startStr, endStr, ok := strings.Cut(set, "-")
	if !ok {
		return ByteWindow{}, ErrRangeNotSatisfiable
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		// Suffix form: the last N bytes.
		n, ok := parseOffset(endStr)
		if !ok || n == 0 {
			return ByteWindow{}, ErrRangeNotSatisfiable
		}
		if n > total {
			n = total
		}
		return clampWindow(total-n, total-1, total, maxChunk), nil
	}

	start, ok := parseOffset(startStr)
	if !ok || start >= total {
		return ByteWindow{}, ErrRangeNotSatisfiable
	}

	end := start + maxChunk - 1
	if endStr != "" {
		requested, ok := parseOffset(endStr)
		if !ok {
			return ByteWindow{}, ErrRangeNotSatisfiable
		}
		if requested >= start && requested < total {
			end = requested
		}
	}
	return clampWindow(start, end, total, maxChunk), nil
}

func clampWindow(start, end, total, maxChunk int64) ByteWindow {
	if end > total-1 {
		end = total - 1
	}
	if end-start+1 > maxChunk {
		end = start + maxChunk - 1
	}
	return ByteWindow{Start: start, End: end}
}

// parseOffset accepts only plain decimal digits; signs and spaces are malformed.
func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
