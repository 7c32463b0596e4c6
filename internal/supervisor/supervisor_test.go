package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AngelCh415/leadscore/internal/logging"
)

type fakeServer struct {
	started  chan struct{}
	stop     chan struct{}
	failWith error
	shutdown atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 4), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	f.started <- struct{}{}
	if f.failWith != nil {
		return f.failWith
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	if f.shutdown.Add(1) == 1 {
		close(f.stop)
	}
	return nil
}

func TestHTTPServerServiceShutsDownOnCancel(t *testing.T) {
	srv := newFakeServer()
	svc := NewHTTPServerService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if srv.shutdown.Load() != 1 {
		t.Fatalf("Shutdown called %d times", srv.shutdown.Load())
	}
}

func TestHTTPServerServiceReportsListenError(t *testing.T) {
	srv := newFakeServer()
	srv.failWith = errors.New("address in use")
	err := NewHTTPServerService(srv, 0).Serve(context.Background())
	if err == nil || srv.shutdown.Load() != 0 {
		t.Fatalf("err = %v", err)
	}
}

type countingService struct{ runs atomic.Int32 }

func (c *countingService) Serve(ctx context.Context) error {
	if c.runs.Add(1) < 3 {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRestartsWorkers(t *testing.T) {
	tree := NewTree(logging.Discard(), TreeConfig{FailureBackoff: 10 * time.Millisecond})
	w := &countingService{}
	tree.AddWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	errc := tree.ServeBackground(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for w.runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errc
	if w.runs.Load() < 3 {
		t.Fatalf("worker ran %d times", w.runs.Load())
	}
}
