package shutdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderLog struct {
	mu    sync.Mutex
	order []string
}

func (l *orderLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *orderLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type slowWorker struct {
	delay   time.Duration
	stopped chan struct{}
}

func (w *slowWorker) Stop() {
	time.Sleep(w.delay)
	close(w.stopped)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownOrderIsReverse(t *testing.T) {
	log := &orderLog{}
	c := NewCoordinator(WithTimeout(time.Second))
	for _, name := range []string{"store", "worker", "http"} {
		c.Register(NewFuncComponent(name, func(context.Context) error {
			log.add(name)
			return nil
		}))
	}

	c.Shutdown()
	c.Wait()
	assert.Equal(t, []string{"http", "worker", "store"}, log.names())
	assert.Equal(t, 0, c.ExitCode())
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	log := &orderLog{}
	c := NewCoordinator(WithTimeout(time.Second))
	c.Register(NewCloserComponent("store", closerFunc(func() error {
		log.add("store")
		return nil
	})))
	c.Register(NewFuncComponent("broken", func(context.Context) error {
		log.add("broken")
		return errors.New("boom")
	}))

	c.Shutdown()
	assert.Equal(t, []string{"broken", "store"}, log.names())
	assert.Equal(t, 1, c.ExitCode())
}

func TestShutdownTimeout(t *testing.T) {
	w := &slowWorker{delay: 300 * time.Millisecond, stopped: make(chan struct{})}
	c := NewCoordinator(WithTimeout(50 * time.Millisecond))
	c.Register(NewWorkerComponent("worker", w))

	start := time.Now()
	c.Shutdown()
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 1, c.ExitCode())
	<-w.stopped
}

func TestWaitForSignal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	c := NewCoordinator(WithSignalChannel(sigCh), WithTimeout(time.Second))
	stopped := false
	c.Register(NewFuncComponent("x", func(context.Context) error {
		stopped = true
		return nil
	}))

	sigCh <- syscall.SIGTERM
	c.WaitForSignal(context.Background())
	assert.True(t, stopped)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	other := NewCoordinator(WithSignalChannel(make(chan os.Signal)))
	other.WaitForSignal(ctx)
	other.Wait()
}

func TestHTTPServerComponentDrainsRequests(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	srv.Start()
	defer srv.Close()

	result := make(chan int, 1)
	go func() {
		resp, err := http.Get(srv.URL)
		if err != nil {
			result <- 0
			return
		}
		resp.Body.Close()
		result <- resp.StatusCode
	}()
	<-started

	c := NewCoordinator(WithTimeout(2 * time.Second))
	c.Register(NewHTTPServerComponent("http", srv.Config))
	c.Shutdown()

	require.Equal(t, http.StatusOK, <-result)
	assert.Equal(t, 0, c.ExitCode())
}

// **Feature: sitekiln, Property 10: Graceful Shutdown Stops Every Component**
// For any number of components, a shutdown within the deadline stops each
// exactly once.
func TestShutdownStopsEachComponentOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("each component stops once", prop.ForAll(
		func(n int) bool {
			counts := make([]int, n)
			c := NewCoordinator(WithTimeout(time.Second))
			for i := 0; i < n; i++ {
				c.Register(NewFuncComponent("c", func(context.Context) error {
					counts[i]++
					return nil
				}))
			}
			c.Shutdown()
			c.Shutdown()
			for _, cnt := range counts {
				if cnt != 1 {
					return false
				}
			}
			return c.ExitCode() == 0
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
