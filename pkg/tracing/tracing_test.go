package tracing

import (
	"context"
	"reflect"
	"testing"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "blipguard"})
	if err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestParseResourceAttributes(t *testing.T) {
	got := ParseResourceAttributes(" service.namespace=guard, deployment.environment = home ,broken,,")
	want := map[string]string{
		"service.namespace":      "guard",
		"deployment.environment": "home",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseResourceAttributes() = %v, want %v", got, want)
	}
	if len(ParseResourceAttributes("")) != 0 {
		t.Fatalf("expected empty map for empty input")
	}
}
