package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("http %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"http 500", &statusErr{500}, true},
		{"http 429", &statusErr{429}, true},
		{"http 408", &statusErr{408}, true},
		{"http 400", &statusErr{400}, false},
		{"http 404", &statusErr{404}, false},
		{"wrapped 503", fmt.Errorf("call upstream: %w", &statusErr{503}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsRetryableError(tc.err); got != tc.want {
			t.Errorf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}

	if d := RetryAfterDuration(nil, 2*time.Second, 10*time.Second); d != 2*time.Second {
		t.Fatalf("nil response: want=2s got=%s", d)
	}

	resp.Header.Set("Retry-After", "3")
	if d := RetryAfterDuration(resp, time.Second, 10*time.Second); d != 3*time.Second {
		t.Fatalf("delta-seconds: want=3s got=%s", d)
	}

	resp.Header.Set("Retry-After", "120")
	if d := RetryAfterDuration(resp, time.Second, 10*time.Second); d != 10*time.Second {
		t.Fatalf("clamp: want=10s got=%s", d)
	}

	resp.Header.Set("Retry-After", time.Now().Add(5*time.Second).UTC().Format(http.TimeFormat))
	if d := RetryAfterDuration(resp, time.Second, 10*time.Second); d < 3*time.Second || d > 6*time.Second {
		t.Fatalf("http-date: want about 5s got=%s", d)
	}

	resp.Header.Set("Retry-After", "garbage")
	if d := RetryAfterDuration(resp, time.Second, 10*time.Second); d != time.Second {
		t.Fatalf("unparseable: want fallback 1s got=%s", d)
	}
}

func TestJitterSleep(t *testing.T) {
	if d := JitterSleep(0); d != 0 {
		t.Fatalf("zero base: want=0 got=%s", d)
	}
	base := time.Second
	for i := 0; i < 50; i++ {
		d := JitterSleep(base)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jitter out of band: got=%s", d)
		}
	}
}
