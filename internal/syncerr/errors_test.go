package syncerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"typed transient", Transient("push", 1, errors.New("boom")), KindTransient},
		{"typed permanent", Permanent("push", 1, errors.New("bad")), KindPermanent},
		{"typed not found", NotFound("delete", 2, nil), KindNotFound},
		{"typed fatal", Fatal("upsert", 3, errors.New("disk full")), KindFatal},
		{"wrapped typed", fmt.Errorf("outer: %w", Permanent("push", 1, errors.New("x"))), KindPermanent},
		{"bare not found", ErrNotFound, KindNotFound},
		{"bare unauthenticated", fmt.Errorf("login: %w", ErrUnauthenticated), KindPermanent},
		{"bare invalid", ErrInvalid, KindPermanent},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"unknown", errors.New("mystery"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPredicates_Nil(t *testing.T) {
	if IsRetryable(nil) || IsNotFound(nil) || IsFatal(nil) || IsPermanent(nil) {
		t.Error("predicates must be false for nil errors")
	}
	if New("op", 1, KindFatal, nil) != nil {
		t.Error("New(nil) should return nil")
	}
}

func TestError_Message(t *testing.T) {
	err := Transient("push", 42, errors.New("timeout"))
	msg := err.Error()
	for _, want := range []string{"push", "42", "transient", "timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.Op != "push" || e.TaskID != 42 {
		t.Errorf("unexpected fields: %+v", e)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	base := errors.New("http")
	tests := []struct {
		status int
		want   Kind
	}{
		{404, KindNotFound},
		{408, KindTransient},
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{400, KindPermanent},
		{401, KindPermanent},
		{403, KindPermanent},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromHTTPStatus("push", 1, tt.status, base)
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf(status %d) = %v, want %v", tt.status, got, tt.want)
			}
			if !errors.Is(err, base) {
				t.Error("cause should stay reachable through errors.Is")
			}
		})
	}

	if !errors.Is(FromHTTPStatus("push", 1, 401, base), ErrUnauthenticated) {
		t.Error("401 should wrap ErrUnauthenticated")
	}
}
