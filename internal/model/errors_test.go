package model

import (
	"errors"
	"testing"
)

func TestError_PublicMessageOmitsCause(t *testing.T) {
	cause := errors.New(`ERROR: duplicate key value violates unique constraint "x" (SQLSTATE 23505)`)
	err := &Error{Kind: ErrConflict, Msg: "username: duplicate value", Err: cause}

	if got := err.PublicMessage(); got != "conflict: username: duplicate value" {
		t.Errorf("PublicMessage() = %q", got)
	}
	if got := PublicMessage(err); got != "conflict: username: duplicate value" {
		t.Errorf("PublicMessage(err) = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should still unwrap")
	}
	if got := (&Error{Kind: ErrRetryable, Err: cause}).PublicMessage(); got != "retryable storage failure" {
		t.Errorf("kind-only message = %q", got)
	}
}
