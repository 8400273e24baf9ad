package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer x ,broken, =skip,tenant=mystra")
	if len(got) != 2 {
		t.Fatalf("expected two headers, got %v", got)
	}
	if got["authorization"] != "Bearer x" || got["tenant"] != "mystra" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "marketd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
