package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestIDPropagatesHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("rid = %q header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("generated rid = %q", seen)
	}
}

func TestWriteErrorBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRID(req.Context(), "rid-1"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, http.StatusForbidden, CodeForbidden, "nope", nil)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"code":"FORBIDDEN"`, `"message":"nope"`, `"request_id":"rid-1"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
	if strings.Contains(body, "details") {
		t.Errorf("nil details should be omitted: %s", body)
	}
}

func TestBackoffRetriesThenSucceeds(t *testing.T) {
	b := Backoff{base: time.Millisecond, maxRetries: 3}
	calls := 0
	err := b.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestBackoffStopsOnPermanent(t *testing.T) {
	b := Backoff{base: time.Millisecond, maxRetries: 5}
	calls := 0
	sentinel := errors.New("bad request")
	err := b.Do(context.Background(), func(int) error {
		calls++
		return Permanent{Err: sentinel}
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestBackoffHonorsContext(t *testing.T) {
	b := Backoff{base: time.Hour, maxRetries: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Do(ctx, func(int) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestBackoffDelayGrows(t *testing.T) {
	b := Backoff{base: 10 * time.Millisecond}
	if b.Delay(0) != 10*time.Millisecond || b.Delay(3) != 80*time.Millisecond {
		t.Fatalf("delays %v %v", b.Delay(0), b.Delay(3))
	}
}

func TestRound(t *testing.T) {
	cases := []struct {
		in, two, three float64
	}{
		{-1.236, -1.24, -1.236},
		{-1.234, -1.23, -1.234},
		{12.344, 12.34, 12.344},
		{12.346, 12.35, 12.346},
		{45.5, 45.5, 45.5},
		{0.5294, 0.53, 0.529},
	}
	for _, c := range cases {
		if got := Round2(c.in); got != c.two {
			t.Errorf("Round2(%v) = %v, want %v", c.in, got, c.two)
		}
		if got := Round3(c.in); got != c.three {
			t.Errorf("Round3(%v) = %v, want %v", c.in, got, c.three)
		}
	}
}
