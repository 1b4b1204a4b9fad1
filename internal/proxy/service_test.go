package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TahaAdapt/vapi-make-proxy/internal/correlation"
	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage/memory"
)

// forwardFunc adapts a function to Forwarder.
type forwardFunc func(ctx context.Context, id string, p payload.Payload) error

func (f forwardFunc) Forward(ctx context.Context, id string, p payload.Payload) error {
	return f(ctx, id, p)
}

func newService(t *testing.T, timeout time.Duration, fwd Forwarder) (*Service, *correlation.Table[payload.Payload], *memory.Store) {
	t.Helper()
	table := correlation.NewTable[payload.Payload](timeout)
	t.Cleanup(table.Close)
	store := memory.New(100)
	svc := NewService(table, fwd, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, table, store
}

func lastStatus(t *testing.T, store *memory.Store) storage.Status {
	t.Helper()
	outcomes, err := store.ListOutcomes(context.Background(), storage.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	return outcomes[0].Status
}

func TestHandle_ResolvedByCallback(t *testing.T) {
	var table *correlation.Table[payload.Payload]
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		go func() {
			time.Sleep(10 * time.Millisecond)
			table.Resolve(id, payload.Payload{"echo": p["q"]})
		}()
		return nil
	})

	svc, tbl, store := newService(t, time.Second, fwd)
	table = tbl

	id, result, err := svc.Handle(context.Background(), payload.Payload{"q": []byte(`"hello"`)})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.JSONEq(t, `"hello"`, string(result["echo"]))
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, storage.StatusResolved, lastStatus(t, store))
}

func TestHandle_CallbackBeforeForwardReturns(t *testing.T) {
	var table *correlation.Table[payload.Payload]
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		table.Resolve(id, payload.Payload{"fast": []byte(`true`)})
		time.Sleep(20 * time.Millisecond)
		return errors.New("connection reset after callback")
	})

	svc, tbl, _ := newService(t, time.Second, fwd)
	table = tbl

	_, result, err := svc.Handle(context.Background(), payload.Payload{})
	require.NoError(t, err)
	assert.JSONEq(t, `true`, string(result["fast"]))
}

func TestHandle_ForwardFailure(t *testing.T) {
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		return errors.New("webhook returned status 502")
	})

	svc, table, store := newService(t, 5*time.Second, fwd)

	start := time.Now()
	_, _, err := svc.Handle(context.Background(), payload.Payload{})

	assert.ErrorIs(t, err, ErrForwardFailed)
	assert.Less(t, time.Since(start), time.Second, "forward failure must not wait for expiry")
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, storage.StatusForwardFailed, lastStatus(t, store))
}

func TestHandle_Timeout(t *testing.T) {
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		return nil
	})

	svc, table, store := newService(t, 50*time.Millisecond, fwd)

	_, _, err := svc.Handle(context.Background(), payload.Payload{})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, correlation.ErrExpired)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, storage.StatusExpired, lastStatus(t, store))
}

func TestHandle_HangingForwardStillExpires(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		<-release
		return nil
	})

	svc, _, _ := newService(t, 50*time.Millisecond, fwd)

	start := time.Now()
	_, _, err := svc.Handle(context.Background(), payload.Payload{})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandle_CallerCanceled(t *testing.T) {
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		return nil
	})

	svc, table, store := newService(t, 5*time.Second, fwd)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err := svc.Handle(ctx, payload.Payload{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, table.Len(), "canceled request must not stay registered")
	assert.Equal(t, storage.StatusCanceled, lastStatus(t, store))
}

func TestHandle_ForwardNotCanceledWithCaller(t *testing.T) {
	forwardCtx := make(chan context.Context, 1)
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		forwardCtx <- ctx
		return nil
	})

	svc, _, _ := newService(t, 5*time.Second, fwd)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := svc.Handle(ctx, payload.Payload{})
	require.ErrorIs(t, err, context.Canceled)

	fctx := <-forwardCtx
	assert.NoError(t, fctx.Err())
}

func TestHandle_Shutdown(t *testing.T) {
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		return nil
	})

	svc, table, store := newService(t, 5*time.Second, fwd)

	go func() {
		for table.Len() == 0 {
			time.Sleep(time.Millisecond)
		}
		table.Close()
	}()

	_, _, err := svc.Handle(context.Background(), payload.Payload{})
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, storage.StatusShutdown, lastStatus(t, store))

	_, _, err = svc.Handle(context.Background(), payload.Payload{})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestHandle_ForwardsAssignedID(t *testing.T) {
	var (
		table *correlation.Table[payload.Payload]
		seen  string
	)
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		seen = id
		table.Resolve(id, payload.Payload{})
		return nil
	})

	svc, tbl, _ := newService(t, time.Second, fwd)
	table = tbl
	svc.newID = func() string { return "fixed-id" }

	id, _, err := svc.Handle(context.Background(), payload.Payload{})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
	assert.Equal(t, "fixed-id", seen)
}

func TestHandle_ConcurrentCallersGetOwnPayload(t *testing.T) {
	var table *correlation.Table[payload.Payload]
	fwd := forwardFunc(func(ctx context.Context, id string, p payload.Payload) error {
		go func() {
			time.Sleep(5 * time.Millisecond)
			table.Resolve(id, payload.Payload{"n": p["n"]})
		}()
		return nil
	})

	svc, tbl, _ := newService(t, 2*time.Second, fwd)
	table = tbl

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			want := fmt.Sprintf("%d", n)
			_, result, err := svc.Handle(context.Background(), payload.Payload{"n": []byte(want)})
			if err != nil {
				errs <- err
				return
			}
			if string(result["n"]) != want {
				errs <- fmt.Errorf("caller %d got %s", n, result["n"])
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, table.Len())
}
