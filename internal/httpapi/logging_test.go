package httpapi

import (
	"net/http/httptest"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
	}{
		{"off", LevelOff},
		{"", LevelOff},
		{"error", LevelError},
		{"info", LevelInfo},
		{"debug", LevelDebug},
		{"bogus", LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRequestLogLevelOverrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/status?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override: %v", got)
	}

	r = httptest.NewRequest("GET", "/status?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("log=1 shorthand: %v", got)
	}

	r = httptest.NewRequest("GET", "/status", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override: %v", got)
	}

	r = httptest.NewRequest("GET", "/status", nil)
	if got := requestLogLevel(r); got != defaultLogLevel {
		t.Fatalf("default: %v", got)
	}
}
