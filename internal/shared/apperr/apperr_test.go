package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestKindAndStatus(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindNotFound, fiber.StatusNotFound},
		{KindConflict, fiber.StatusConflict},
		{KindUnauthorized, fiber.StatusUnauthorized},
		{KindForbidden, fiber.StatusForbidden},
		{KindValidation, fiber.StatusUnprocessableEntity},
		{KindStore, fiber.StatusInternalServerError},
		{KindInternal, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := New(tc.kind, "test", "boom")
		if !IsKind(err, tc.kind) {
			t.Fatalf("IsKind failed for %s", tc.kind)
		}
		if got := StatusCode(err); got != tc.status {
			t.Fatalf("status for %s: got %d want %d", tc.kind, got, tc.status)
		}
	}
}

func TestStatusCodeUnclassified(t *testing.T) {
	if got := StatusCode(errors.New("plain")); got != fiber.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindStore, "redis", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if !IsKind(fmt.Errorf("context: %w", err), KindStore) {
		t.Fatalf("expected IsKind through wrapping")
	}
	if Wrap(KindStore, "redis", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestValidationBody(t *testing.T) {
	err := Validation("socket", "validation failed", map[string]string{"score": "score must be a number"})
	body := ResponseBody(err)
	if body.Kind != KindValidation || body.Details["score"] == "" {
		t.Fatalf("unexpected body: %+v", body)
	}

	plain := ResponseBody(errors.New("plain"))
	if plain.Kind != KindInternal {
		t.Fatalf("unexpected kind for plain error: %s", plain.Kind)
	}
}
