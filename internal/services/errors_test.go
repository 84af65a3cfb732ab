package services_test

import (
	"errors"
	"strings"
	"testing"

	"lighthouse/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("socket closed")
	err := services.Wrap(services.ErrTransient, "conversion", "submit", "create job", base)

	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
	if !strings.Contains(err.Error(), "conversion: submit: create job") {
		t.Fatalf("unexpected detail: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "rendering", "invoke", "", nil)
	if !services.IsTransient(err) {
		t.Fatalf("nil marker should default to transient, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name   string
		marker error
		want   bool
	}{
		{"transient", services.ErrTransient, true},
		{"timeout", services.ErrTimeout, true},
		{"validation", services.ErrValidation, false},
		{"configuration", services.ErrConfiguration, false},
		{"not found", services.ErrNotFound, false},
		{"external", services.ErrExternalService, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := services.Wrap(tc.marker, "stage", "op", "msg", nil)
			if got := services.IsTransient(err); got != tc.want {
				t.Fatalf("IsTransient(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if kind := services.Classify(services.Wrap(services.ErrValidation, "", "", "bad input", nil)); kind != services.KindValidation {
		t.Fatalf("Classify = %s, want %s", kind, services.KindValidation)
	}
	if kind := services.Classify(errors.New("plain")); kind != services.KindUnknown {
		t.Fatalf("Classify(plain) = %s, want %s", kind, services.KindUnknown)
	}
	if kind := services.Classify(nil); kind != services.KindUnknown {
		t.Fatalf("Classify(nil) = %s, want %s", kind, services.KindUnknown)
	}
}

func TestDetails(t *testing.T) {
	err := services.Wrap(services.ErrNotFound, "verification", "head", "missing object", nil)
	details := services.Details(err)
	if details.Kind != services.KindNotFound {
		t.Fatalf("details kind = %s, want %s", details.Kind, services.KindNotFound)
	}
	if !strings.Contains(details.Message, "missing object") {
		t.Fatalf("details message = %q", details.Message)
	}
}
