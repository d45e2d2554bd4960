package server

import (
	"bufio"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/carloslauriano/glomail/protocol"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, env *testEnv, metrics *Metrics) (*Server, string) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(log.NewNopLogger(), env.svc, env.table, 0, metrics)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	t.Cleanup(func() {
		srv.Shutdown()
		assert.ErrorIs(t, <-served, ErrServerClosed)
	})

	return srv, l.Addr().String()
}

func dialRaw(t *testing.T, addr string) (*protocol.Conn, net.Conn) {
	t.Helper()

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })

	return protocol.NewConn(nc, 0), nc
}

func exchange(t *testing.T, c *protocol.Conn, req protocol.Message) protocol.Message {
	t.Helper()

	require.NoError(t, c.SendMessage(req))
	reply, err := c.ReceiveMessage()
	require.NoError(t, err)
	return reply
}

func TestServerRequestReply(t *testing.T) {
	env := newTestEnv(t)
	_, addr := startServer(t, env, nil)

	c, _ := dialRaw(t, addr)
	requireOK(t, exchange(t, c, register("bob")))
	requireOK(t, exchange(t, c, sending("bob@"+testDomain, "note", "to self", time.Now())))

	var list protocol.EmailList
	require.NoError(t, requireOK(t, exchange(t, c, protocol.InboxReadingRequest{})).DecodePayload(&list))
	assert.Len(t, list.EmailList, 1)
}

func TestServerMalformedFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	_, addr := startServer(t, env, nil)

	c, _ := dialRaw(t, addr)
	require.NoError(t, c.Send(`{"header":"NOPE"}`))
	reply, err := c.ReceiveMessage()
	require.NoError(t, err)
	requireError(t, reply, msgMalformed)

	require.NoError(t, c.Send("not json"))
	reply, err = c.ReceiveMessage()
	require.NoError(t, err)
	requireError(t, reply, msgMalformed)

	requireError(t, exchange(t, c, protocol.StatsRequest{}), msgNotAuthenticated)
}

func TestServerDropsSessionOnDisconnect(t *testing.T) {
	env := newTestEnv(t)
	_, addr := startServer(t, env, nil)

	c, nc := dialRaw(t, addr)
	requireOK(t, exchange(t, c, register("bob")))
	assert.Equal(t, 1, env.table.Authenticated())

	nc.Close()
	assert.Eventually(t, func() bool { return env.table.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerByeClosesConnection(t *testing.T) {
	env := newTestEnv(t)
	_, addr := startServer(t, env, nil)

	c, nc := dialRaw(t, addr)
	requireOK(t, exchange(t, c, register("bob")))
	require.NoError(t, c.SendMessage(protocol.Bye{}))

	// BYE não tem resposta: o servidor apenas fecha a conexão
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := bufio.NewReader(nc).ReadByte()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return env.table.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerConcurrentClients(t *testing.T) {
	env := newTestEnv(t)
	_, addr := startServer(t, env, nil)

	slow, _ := dialRaw(t, addr)
	requireOK(t, exchange(t, slow, register("alice")))

	// Uma conexão parada no meio de um quadro não bloqueia as demais
	_, partial := dialRaw(t, addr)
	_, err := partial.Write([]byte(`{"header":"AUTH_LO`))
	require.NoError(t, err)

	fast, _ := dialRaw(t, addr)
	requireOK(t, exchange(t, fast, register("bob")))
	requireOK(t, exchange(t, fast, sending("alice@"+testDomain, "hi", "there", time.Now())))

	var list protocol.EmailList
	require.NoError(t, requireOK(t, exchange(t, slow, protocol.InboxReadingRequest{})).DecodePayload(&list))
	assert.Len(t, list.EmailList, 1)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(log.NewNopLogger(), NewMetricsService(env.svc, metrics), env.table, 0, metrics)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	c, nc := dialRaw(t, l.Addr().String())
	requireOK(t, exchange(t, c, register("bob")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsVec.WithLabelValues("AUTH_REGISTER", "ok")))

	require.NoError(t, srv.Shutdown())
	assert.ErrorIs(t, <-served, ErrServerClosed)

	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = bufio.NewReader(nc).ReadByte()
	assert.Error(t, err)
	assert.Equal(t, 0, env.table.Len())
}

// flakyListener falha os primeiros aceites com EMFILE antes de delegar
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.EMFILE)}
	}
	return l.Listener.Accept()
}

func TestServerSurvivesTransientAcceptErrors(t *testing.T) {
	env := newTestEnv(t)

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	l := &flakyListener{Listener: inner}
	l.failures.Store(3)

	srv := NewServer(log.NewNopLogger(), env.svc, env.table, 0, nil)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	c, _ := dialRaw(t, inner.Addr().String())
	requireOK(t, exchange(t, c, register("bob")))

	select {
	case err := <-served:
		t.Fatalf("Serve retornou antes do Shutdown: %v", err)
	default:
	}

	require.NoError(t, srv.Shutdown())
	assert.ErrorIs(t, <-served, ErrServerClosed)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, backoff(0))
	assert.Equal(t, 10*time.Millisecond, backoff(5*time.Millisecond))
	assert.Equal(t, time.Second, backoff(800*time.Millisecond))
	assert.Equal(t, time.Second, backoff(time.Second))
}

func TestServerShutdownWhileAccepting(t *testing.T) {
	env := newTestEnv(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()

	srv := NewServer(log.NewNopLogger(), env.svc, env.table, 0, nil)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	var dialers sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		dialers.Add(1)
		go func() {
			defer dialers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if nc, err := net.Dial("tcp", addr); err == nil {
					nc.Close()
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	srv.Shutdown()
	assert.ErrorIs(t, <-served, ErrServerClosed)

	// Nenhuma sessão sobrevive ao retorno de Shutdown
	assert.Equal(t, 0, env.table.Len())

	close(stop)
	dialers.Wait()
	assert.Equal(t, 0, env.table.Len())
}
