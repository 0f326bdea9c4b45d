package netutil

import (
	"errors"
	"net"
	"net/url"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(nil) {
		t.Fatal("nil error must not retry")
	}
	if !ShouldRetry(timeoutErr{}) {
		t.Fatal("timeout must retry")
	}
	if !ShouldRetry(&net.OpError{Op: "dial", Err: errors.New("refused")}) {
		t.Fatal("dial failure must retry")
	}
	if !ShouldRetry(&url.Error{Op: "Post", URL: "http://x", Err: timeoutErr{}}) {
		t.Fatal("wrapped timeout must retry")
	}
	if ShouldRetry(errors.New("schema validation failed")) {
		t.Fatal("generic error must not retry")
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 599} {
		if !RetryableStatus(code) {
			t.Fatalf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 422} {
		if RetryableStatus(code) {
			t.Fatalf("status %d should be terminal", code)
		}
	}
}
