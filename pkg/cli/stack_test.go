package cli

import (
	"context"
	"testing"

	"github.com/elderwise/companion/pkg/config"
	"github.com/elderwise/companion/pkg/memory/session"
)

func TestBuildStackWiresInMemoryBackends(t *testing.T) {
	cfg := config.Default()
	st, err := buildStack(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildStack: %v", err)
	}
	if st.store == nil || st.cache == nil || st.index == nil || st.controller == nil || st.scheduler == nil {
		t.Fatalf("incomplete stack: %+v", st)
	}
	st.Close()
}

type fakeConn struct{ closed bool }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestAddCloserRegistersClosableBackends(t *testing.T) {
	st := &stack{}
	conn := &fakeConn{}
	st.addCloser(conn)
	st.addCloser(session.NewMemoryBackend())
	if len(st.closers) != 1 {
		t.Fatalf("expected only the closable backend registered, got %d closers", len(st.closers))
	}
	st.Close()
	if !conn.closed {
		t.Fatalf("registered backend was not closed on teardown")
	}
}
