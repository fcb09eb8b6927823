package app

import (
	"log/slog"
	"regexp"
	"strconv"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiPattern.ReplaceAllString(s, "") }

// visualLen is the printed width of s, ignoring color codes.
func visualLen(s string) int { return utf8.RuneCountInString(stripANSI(s)) }

func paint(s, code string, on bool) string {
	if !on || s == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(method string, on bool) string {
	switch method {
	case "GET":
		return paint(method, ansiGreen, on)
	case "POST":
		return paint(method, ansiBlue, on)
	case "PUT", "PATCH":
		return paint(method, ansiYellow, on)
	case "DELETE":
		return paint(method, ansiRed, on)
	default:
		return paint(method, ansiMagenta, on)
	}
}

func colorizeStatusCode(code int, on bool) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 500:
		return paint(s, ansiRed, on)
	case code >= 400:
		return paint(s, ansiYellow, on)
	case code >= 300:
		return paint(s, ansiCyan, on)
	default:
		return paint(s, ansiGreen, on)
	}
}

func colorizeStatusClass(class string, on bool) string {
	if class == "" {
		return `""`
	}
	switch class[0] {
	case '5':
		return paint(class, ansiRed, on)
	case '4':
		return paint(class, ansiYellow, on)
	case '3':
		return paint(class, ansiCyan, on)
	default:
		return paint(class, ansiGreen, on)
	}
}

func colorizeDurationMS(ms int64, on bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, on)
	case ms >= 200:
		return paint(s, ansiYellow, on)
	default:
		return paint(s, ansiGreen, on)
	}
}

func colorizeResult(result string, on bool) string {
	switch result {
	case "success", "ok":
		return paint(result, ansiGreen, on)
	case "redirect":
		return paint(result, ansiCyan, on)
	case "client_error", "fail", "empty":
		return paint(result, ansiYellow, on)
	case "server_error", "error":
		return paint(result, ansiRed, on)
	default:
		return quoteIfNeeded(result)
	}
}

// colorizeState paints connection states: green when usable, yellow while recovering.
func colorizeState(state string, on bool) string {
	switch state {
	case "connected":
		return paint(state, ansiGreen, on)
	case "connecting", "awaiting_auth", "reconnecting":
		return paint(state, ansiYellow, on)
	case "disconnected":
		return paint(state, ansiRed, on)
	default:
		return quoteIfNeeded(state)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
