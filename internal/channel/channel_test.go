package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/outcome"
)

// pushServer hands each accepted connection to the test so it can push
// confirmation messages.
type pushServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	accepted atomic.Int32
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	return newFeedServer(t, false)
}

func (p *pushServer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func push(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	var err error
	if s, ok := v.(string); ok {
		err = c.WriteMessage(websocket.TextMessage, []byte(s))
	} else {
		err = c.WriteJSON(v)
	}
	require.NoError(t, err)
}

func newConnectedService(t *testing.T, opts ...Option) (*Service, *websocket.Conn, *pushServer) {
	t.Helper()
	ps := newPushServer(t)
	svc := NewService(DefaultWSConfig(wsURL(ps.srv)), outcome.NewRegistry(), opts...)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(svc.Disconnect)
	return svc, ps.next(t), ps
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestService_ProcessedResolves(t *testing.T) {
	svc, conn, _ := newConnectedService(t)
	reg := svc.Registry()

	p, err := reg.Register("tx-1", time.Minute)
	require.NoError(t, err)
	_, err = reg.Wait("tx-1")
	require.NoError(t, err)

	push(t, conn, Message{TrackingID: "tx-1", Status: StatusPending})
	push(t, conn, Message{TrackingID: "tx-1", Status: StatusProcessed, Data: json.RawMessage(`{"amount0":"5"}`)})

	res, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	require.JSONEq(t, `{"amount0":"5"}`, string(res.Data))
	require.False(t, res.BestEffort, "PENDING must not settle the entry")
}

func TestService_FailedRejectsAwaited(t *testing.T) {
	svc, conn, _ := newConnectedService(t)
	reg := svc.Registry()

	p, err := reg.Register("tx-2", time.Minute)
	require.NoError(t, err)
	_, err = reg.Wait("tx-2")
	require.NoError(t, err)

	push(t, conn, `{"trackingId":"tx-2","status":"FAILED","error":{"code":"SLIPPAGE"}}`)

	_, err = p.Wait(waitCtx(t))
	require.ErrorIs(t, err, dexerr.ErrTransactionWaitFailed)
	var wf *dexerr.WaitFailedError
	require.True(t, errors.As(err, &wf))
	require.JSONEq(t, `{"code":"SLIPPAGE"}`, string(wf.Detail))
}

func TestService_DropsMalformedAndUnknown(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	svc, conn, _ := newConnectedService(t, WithMetrics(m))
	reg := svc.Registry()

	p, err := reg.Register("tx-3", time.Minute)
	require.NoError(t, err)

	push(t, conn, "not json")
	push(t, conn, `{"status":"PROCESSED"}`)
	push(t, conn, Message{TrackingID: "tx-3", Status: "SETTLING"})
	push(t, conn, Message{TrackingID: "unregistered", Status: StatusProcessed})
	push(t, conn, Message{TrackingID: "tx-3", Status: StatusProcessed, Data: json.RawMessage(`1`)})

	res, err := p.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, "1", string(res.Data))

	require.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("undecodable")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("unknown")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues(StatusProcessed)))
}

func TestService_ConnectIsIdempotent(t *testing.T) {
	ps := newPushServer(t)
	svc := NewService(DefaultWSConfig(wsURL(ps.srv)), outcome.NewRegistry())
	t.Cleanup(svc.Disconnect)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, svc.Connect(context.Background()))
	ps.next(t)
	require.EqualValues(t, 1, ps.accepted.Load())
	require.True(t, svc.Connected())
	require.True(t, svc.Healthy())
}

func TestService_DisconnectDisablesRegistry(t *testing.T) {
	svc, _, ps := newConnectedService(t)
	reg := svc.Registry()

	var pendings []*outcome.Pending
	for _, id := range []string{"a", "b", "c"} {
		p, err := reg.Register(id, time.Minute)
		require.NoError(t, err)
		pendings = append(pendings, p)
	}
	_, err := reg.Wait("b")
	require.NoError(t, err)

	svc.Disconnect()
	require.False(t, svc.Connected())
	require.False(t, svc.Healthy())
	require.Zero(t, reg.Len())

	for _, p := range pendings {
		_, err := p.Wait(waitCtx(t))
		require.ErrorIs(t, err, dexerr.ErrSocketDisabled)
	}

	// A fresh Connect opens a new socket.
	require.NoError(t, svc.Connect(context.Background()))
	ps.next(t)
	require.EqualValues(t, 2, ps.accepted.Load())
}

func TestService_DisconnectWithoutConnect(t *testing.T) {
	reg := outcome.NewRegistry()
	svc := NewService(DefaultWSConfig("ws://127.0.0.1:1"), reg)

	p, err := reg.Register("x", time.Minute)
	require.NoError(t, err)

	svc.Disconnect()
	_, err = p.Wait(waitCtx(t))
	require.ErrorIs(t, err, dexerr.ErrSocketDisabled)
}

func TestService_ConnectFailure(t *testing.T) {
	svc := NewService(DefaultWSConfig("ws://127.0.0.1:1"), outcome.NewRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.Error(t, svc.Connect(ctx))
	require.False(t, svc.Connected())
}

func TestService_DisconnectAbortsDialInFlight(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	svc := NewService(DefaultWSConfig(wsURL(srv)), outcome.NewRegistry())
	errc := make(chan error, 1)
	go func() { errc <- svc.Connect(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	svc.Disconnect()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, dexerr.ErrSocketDisabled)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}
	require.False(t, svc.Connected())

	// Nothing comes back to life once the slow upgrade would have finished.
	time.Sleep(300 * time.Millisecond)
	require.False(t, svc.Connected())
	require.False(t, svc.Healthy())
}
