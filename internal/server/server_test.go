package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/overlayctl/internal/config"
	"github.com/danmuck/overlayctl/internal/store"
	"github.com/danmuck/overlayctl/internal/testutil/testlog"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // ephemeral
	return cfg
}

func startServer(t *testing.T, cfg config.Config) (*Server, *store.Store) {
	t.Helper()
	st := store.New(cfg.DefaultTTL())
	srv := New(cfg, st)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			t.Errorf("stop: %v", err)
		}
	})
	return srv, st
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial %s: %v", srv.Addr(), err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendLine(t *testing.T, conn net.Conn, line string) {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write line: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartStopLifecycle(t *testing.T) {
	testlog.Start(t)
	srv, _ := startServer(t, testConfig())
	if err := srv.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := srv.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStoppedServerCannotRestart(t *testing.T) {
	testlog.Start(t)
	srv, _ := startServer(t, testConfig())
	if err := srv.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-srv.Done():
	default:
		t.Fatalf("done not closed after stop")
	}
	if err := srv.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped on restart, got %v", err)
	}
	// A second Stop after the refused restart must not panic.
	if err := srv.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStartFailsOnBusyPort(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	srv := New(cfg, store.New(cfg.DefaultTTL()))
	if err := srv.Start(); err == nil {
		_ = srv.Stop()
		t.Fatalf("expected bind failure")
	}
}

func TestGraphicLineLandsInStore(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"fuel","text":"low fuel","color":"red","x":200,"y":100,"ttl":8}`)
	waitFor(t, "graphic in store", func() bool {
		_, ok := st.Get("fuel")
		return ok
	})

	g, _ := st.Get("fuel")
	if g.Kind != store.KindText || g.Text != "low fuel" || g.Color != "red" {
		t.Fatalf("unexpected graphic %+v", g)
	}
	if g.X != 200 || g.Y != 100 || g.TTLSeconds != 8 {
		t.Fatalf("unexpected geometry %+v", g)
	}
	if got := g.ExpiresAt.Sub(g.CreatedAt); got != 8*time.Second {
		t.Fatalf("unexpected expiry window %v", got)
	}
	if g.ClientID == "" {
		t.Fatalf("missing client id")
	}
}

func TestLastWriteWinsAcrossConnections(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())

	first := dialServer(t, srv)
	sendLine(t, first, `{"id":"shared","text":"from first"}`)
	waitFor(t, "first write", func() bool {
		g, ok := st.Get("shared")
		return ok && g.Text == "from first"
	})

	second := dialServer(t, srv)
	sendLine(t, second, `{"id":"shared","text":"from second"}`)
	waitFor(t, "second write", func() bool {
		g, ok := st.Get("shared")
		return ok && g.Text == "from second"
	})
	if st.Len() != 1 {
		t.Fatalf("expected one live graphic, got %d", st.Len())
	}
}

func TestMalformedLineKeepsConnectionUsable(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"bad","color":"notacolor"}`)
	sendLine(t, conn, `this is not json`)
	sendLine(t, conn, `{"id":"good","text":"still here"}`)

	waitFor(t, "valid graphic after bad lines", func() bool {
		_, ok := st.Get("good")
		return ok
	})
	if _, ok := st.Get("bad"); ok {
		t.Fatalf("rejected message altered the store")
	}
	snap := srv.Counters().Snapshot()
	if snap.Malformed != 2 {
		t.Fatalf("expected 2 malformed, got %d", snap.Malformed)
	}
	if snap.Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", snap.Processed)
	}
}

func TestOversizeLineDroppedConnectionSurvives(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Security.MaxLineBytes = 64
	srv, st := startServer(t, cfg)
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"huge","text":"`+strings.Repeat("A", 500)+`"}`)
	sendLine(t, conn, `{"id":"small","text":"fits"}`)

	waitFor(t, "small graphic", func() bool {
		_, ok := st.Get("small")
		return ok
	})
	if _, ok := st.Get("huge"); ok {
		t.Fatalf("oversize line reached the store")
	}
	if snap := srv.Counters().Snapshot(); snap.Malformed == 0 {
		t.Fatalf("oversize line not counted")
	}
}

func TestClientCapClosesExcessConnections(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Server.MaxClients = 1
	srv, st := startServer(t, cfg)

	first := dialServer(t, srv)
	sendLine(t, first, `{"id":"claim","text":"seat taken"}`)
	waitFor(t, "first session active", func() bool {
		_, ok := st.Get("claim")
		return ok
	})

	second := dialServer(t, srv)
	sendLine(t, second, `{"id":"refused","text":"never read"}`)

	// The excess connection is closed without being read from. The close can
	// surface as EOF or a reset depending on the unread buffer.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := second.Read(make([]byte, 1))
	if err == nil || n > 0 {
		t.Fatalf("refused connection still open (n=%d err=%v)", n, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("refused connection was not closed: %v", err)
	}
	if _, ok := st.Get("refused"); ok {
		t.Fatalf("refused connection's line was processed")
	}

	// Closing the first frees the slot.
	_ = first.Close()
	waitFor(t, "slot freed", func() bool {
		return srv.Status().ActiveClients == 0
	})
	third := dialServer(t, srv)
	sendLine(t, third, `{"id":"admitted","text":"after drain"}`)
	waitFor(t, "third connection admitted", func() bool {
		_, ok := st.Get("admitted")
		return ok
	})
}

func TestRateLimitDropsExcessAndCounts(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Security.RatePerSecond = 5
	srv, st := startServer(t, cfg)
	conn := dialServer(t, srv)

	for i := 0; i < 8; i++ {
		sendLine(t, conn, fmt.Sprintf(`{"id":"msg-%d","text":"m","ttl":-1}`, i))
	}
	waitFor(t, "all lines accounted", func() bool {
		snap := srv.Counters().Snapshot()
		return snap.Processed+snap.RateLimited+snap.Malformed == 8
	})
	snap := srv.Counters().Snapshot()
	if snap.Processed != 5 {
		t.Fatalf("expected 5 processed, got %d", snap.Processed)
	}
	if snap.RateLimited != 3 {
		t.Fatalf("expected 3 rate limited, got %d", snap.RateLimited)
	}
	// Admitted lines still landed; per-connection order means the first five.
	for i := 0; i < 5; i++ {
		if _, ok := st.Get(fmt.Sprintf("msg-%d", i)); !ok {
			t.Fatalf("admitted msg-%d missing from store", i)
		}
	}
	if st.Len() != 5 {
		t.Fatalf("expected 5 live graphics, got %d", st.Len())
	}
}

func TestClearCommandEmptiesStore(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"pinned","text":"forever","ttl":-1}`)
	sendLine(t, conn, `{"id":"timed","text":"soon","ttl":60}`)
	waitFor(t, "graphics created", func() bool { return st.Len() == 2 })

	sendLine(t, conn, `{"command":"clear"}`)
	waitFor(t, "store cleared", func() bool { return st.Len() == 0 })
}

func TestStatusCommandLeavesStoreAlone(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"keep","ttl":-1,"text":"x"}`)
	waitFor(t, "graphic created", func() bool { return st.Len() == 1 })

	sendLine(t, conn, `{"command":"status"}`)
	waitFor(t, "status processed", func() bool {
		return srv.Counters().Snapshot().Processed == 2
	})
	if st.Len() != 1 {
		t.Fatalf("status command touched the store")
	}
}

func TestUnknownCommandRejectsWholeMessage(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"side-effect","command":"shutdown"}`)
	waitFor(t, "line rejected", func() bool {
		return srv.Counters().Snapshot().Malformed == 1
	})
	if st.Len() != 0 {
		t.Fatalf("rejected command message altered the store")
	}
}

func TestExitCommandStopsServer(t *testing.T) {
	testlog.Start(t)
	srv, _ := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"command":"exit"}`)
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after exit command")
	}
	if err := srv.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after exit, got %v", err)
	}
}

func TestEmptyTextDeletesTextGraphic(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"note","text":"visible","ttl":-1}`)
	waitFor(t, "graphic created", func() bool { return st.Len() == 1 })

	sendLine(t, conn, `{"id":"note","text":""}`)
	waitFor(t, "graphic deleted", func() bool { return st.Len() == 0 })
}

func TestAbsentTextAlsoDeletes(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"note","text":"visible","ttl":-1}`)
	waitFor(t, "graphic created", func() bool { return st.Len() == 1 })

	sendLine(t, conn, `{"id":"note"}`)
	waitFor(t, "graphic deleted", func() bool { return st.Len() == 0 })
}

func TestEmptyTextRectStillDraws(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"box","shape":"rect","x":10,"y":10,"w":40,"h":20,"ttl":-1}`)
	waitFor(t, "rect created", func() bool {
		g, ok := st.Get("box")
		return ok && g.Kind == store.KindRect
	})
}

func TestVectorGraphic(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"trail","vector":[{"x":1,"y":2,"marker":"cross"},{"x":3,"y":4,"color":"yellow","text":"wp"}],"ttl":-1}`)
	waitFor(t, "vector created", func() bool {
		g, ok := st.Get("trail")
		return ok && g.Kind == store.KindVector && len(g.Vector) == 2
	})
	g, _ := st.Get("trail")
	if g.Vector[0].Marker != "cross" || g.Vector[1].Color != "yellow" || g.Vector[1].Text != "wp" {
		t.Fatalf("unexpected vector points %+v", g.Vector)
	}
}

func TestSweepEvictsExpiredGraphics(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Server.SweepIntervalSecs = 1
	srv, st := startServer(t, cfg)
	conn := dialServer(t, srv)

	sendLine(t, conn, `{"id":"blip","text":"gone soon","ttl":1}`)
	sendLine(t, conn, `{"id":"pinned","text":"stays","ttl":-1}`)
	waitFor(t, "graphics created", func() bool { return st.Len() == 2 })

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := st.Get("blip"); !ok {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if _, ok := st.Get("blip"); ok {
		t.Fatalf("expired graphic survived the sweep")
	}
	if _, ok := st.Get("pinned"); !ok {
		t.Fatalf("never-expiring graphic was swept")
	}
}

func TestPerConnectionOrderPreserved(t *testing.T) {
	testlog.Start(t)
	srv, st := startServer(t, testConfig())
	conn := dialServer(t, srv)

	writer := bufio.NewWriter(conn)
	for i := 0; i < 50; i++ {
		if _, err := writer.WriteString(fmt.Sprintf(`{"id":"seq","text":"v%d","ttl":-1}`+"\n", i)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	waitFor(t, "final write wins", func() bool {
		g, ok := st.Get("seq")
		return ok && g.Text == "v49"
	})
	if st.Len() != 1 {
		t.Fatalf("expected one live graphic, got %d", st.Len())
	}
}
