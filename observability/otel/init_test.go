package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,=skip, broken, tenant=auction-house,")
	if len(got) != 2 {
		t.Fatalf("expected 2 headers, got %v", got)
	}
	if got["api-key"] != "abc" || got["tenant"] != "auction-house" {
		t.Fatalf("unexpected headers: %v", got)
	}
	if len(ParseHeaders("")) != 0 {
		t.Fatalf("expected empty map for empty input")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing service name")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "auctiond"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
