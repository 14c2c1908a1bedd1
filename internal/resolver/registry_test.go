package resolver

import (
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestServerEntry_FirstUDPContactGatesLaterSenders(t *testing.T) {
	s := newServerEntry("8.8.8.8:53", "ip4", protoAny)

	proceed, wait := s.awaitFirstUDPContact()
	if !proceed || wait != nil {
		t.Fatalf("first caller should proceed immediately, got proceed=%v wait=%v", proceed, wait)
	}

	var waiters sync.WaitGroup
	released := make(chan struct{})
	for i := 0; i < 3; i++ {
		waiters.Add(1)
		go func() {
			defer waiters.Done()
			proceed, wait := s.awaitFirstUDPContact()
			if proceed {
				t.Error("later caller should not proceed before release")
				return
			}
			<-wait
		}()
	}

	go func() {
		waiters.Wait()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("waiters unblocked before release")
	case <-time.After(20 * time.Millisecond):
	}

	s.releaseFirstUDPContact()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiters never released")
	}

	proceedAgain, waitAgain := s.awaitFirstUDPContact()
	if !proceedAgain || waitAgain != nil {
		t.Error("gate should never re-arm after release")
	}
}

func TestServerEntry_ConnectTCPDeduplicatesConcurrentDials(t *testing.T) {
	s := newServerEntry("8.8.8.8:53", "ip4", protoAny)

	var dials int
	var mu sync.Mutex
	dial := func(endpoint string) (*tcpConnection, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return &tcpConnection{endpoint: endpoint}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.connectTCP(dial); err != nil {
				t.Errorf("connectTCP: %v", err)
			}
		}()
	}
	wg.Wait()

	if dials != 1 {
		t.Errorf("dialed %d times, want 1", dials)
	}
	if !s.tcpIsEstablished() {
		t.Error("expected TCP to be established")
	}
}

func TestRegistry_UnloadFailsPendingRequests(t *testing.T) {
	r := NewRegistry(zap.NewNop(), time.Second)
	s := r.GetOrCreate("1.1.1.1:53", "ip4", protoAny)
	s.addPending(7)

	var gotIDs []uint16
	var gotErr error
	r.failPending = func(ids []uint16, endpoint string, err error) {
		gotIDs = ids
		gotErr = err
	}

	r.Unload("1.1.1.1:53", resolutionErrorf("boom"))

	if len(gotIDs) != 1 || gotIDs[0] != 7 {
		t.Errorf("failPending ids = %v, want [7]", gotIDs)
	}
	if gotErr == nil {
		t.Error("expected failPending to receive an error")
	}
	if _, ok := r.Get("1.1.1.1:53"); ok {
		t.Error("server entry should be removed after Unload")
	}
}

func TestRegistry_CloseAllClosesConnectionsAndFailsAllPending(t *testing.T) {
	r := NewRegistry(zap.NewNop(), time.Second)
	a := r.GetOrCreate("1.1.1.1:53", "ip4", protoAny)
	a.addPending(1)
	b := r.GetOrCreate("8.8.8.8:53", "ip4", protoAny)
	b.addPending(2)
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	b.tcpState = tcpEstablished
	conn := &tcpConnection{endpoint: "8.8.8.8:53", conn: local, done: make(chan struct{})}
	b.tcpConn = conn

	var failedIDs []uint16
	r.failPending = func(ids []uint16, endpoint string, err error) {
		failedIDs = append(failedIDs, ids...)
		if err == nil {
			t.Error("expected a non-nil shutdown error")
		}
	}

	r.CloseAll(resolutionErrorf("shutting down"))

	if len(failedIDs) != 2 {
		t.Errorf("failed ids = %v, want 2 ids total", failedIDs)
	}
	if _, ok := r.Get("1.1.1.1:53"); ok {
		t.Error("server a should be removed after CloseAll")
	}
	if _, ok := r.Get("8.8.8.8:53"); ok {
		t.Error("server b should be removed after CloseAll")
	}
	select {
	case <-conn.done:
	default:
		t.Error("expected server b's TCP connection to be closed")
	}
	if r.Len() != 0 {
		t.Errorf("registry should be empty after CloseAll, got %d", r.Len())
	}
}

func TestRegistry_SweepIdleUnloadsExpiredServers(t *testing.T) {
	r := NewRegistry(zap.NewNop(), time.Millisecond)
	s := r.GetOrCreate("1.1.1.1:53", "ip4", protoAny)
	s.addPending(1)
	s.removePending(1, time.Millisecond)

	r.SweepIdle(time.Now().Add(time.Second))

	if _, ok := r.Get("1.1.1.1:53"); ok {
		t.Error("idle-expired server should have been unloaded")
	}
}
