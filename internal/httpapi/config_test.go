package httpapi

import "testing"

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB on zero, got %d", maxBodyBytes)
	}
}

func TestSetMaxBodyBytes_PositiveSetsValue(t *testing.T) {
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0) // restore default for other tests
}

func TestSetCORSOptions_CopiesSlices(t *testing.T) {
	origins := []string{"http://a"}
	SetCORSOptions(true, origins, []string{"GET"}, []string{"X-Y"})
	origins[0] = "http://mutated"
	if corsAllowedOrigins[0] != "http://a" {
		t.Fatalf("expected defensive copy, got %v", corsAllowedOrigins)
	}
	SetCORSOptions(false, nil, nil, nil)
}
