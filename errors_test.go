package shelfsync

import (
	"errors"
	"strings"
	"testing"
)

func TestHTTPErrorAuthMapping(t *testing.T) {
	for _, code := range []int{401, 403} {
		err := &HTTPError{StatusCode: code, Endpoint: "/v2/catalog/list"}
		if !errors.Is(err, ErrAuthentication) {
			t.Errorf("expected status %d to match ErrAuthentication", code)
		}
	}
	err := &HTTPError{StatusCode: 500, Endpoint: "/v2/catalog/list"}
	if errors.Is(err, ErrAuthentication) {
		t.Error("500 must not match ErrAuthentication")
	}
}

func TestHTTPErrorMessage(t *testing.T) {
	err := &HTTPError{StatusCode: 429, Endpoint: "/v2/catalog/list", Body: "slow down"}
	msg := err.Error()
	if !strings.Contains(msg, "429") || !strings.Contains(msg, "slow down") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestSyncRunErrorUnwrap(t *testing.T) {
	cause := &HTTPError{StatusCode: 503, Endpoint: "/v2/catalog/list"}
	err := &SyncRunError{Type: SyncFull, Cursor: "c2", Attempt: 2, Cause: cause}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Error("expected cause reachable through Unwrap")
	}
	if !strings.Contains(err.Error(), "c2") {
		t.Errorf("expected cursor in message: %s", err.Error())
	}
}

func TestDecodeErrorUnwrap(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &DecodeError{Endpoint: "/v2/catalog/list", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected cause reachable through Unwrap")
	}
}
