package tor

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeControlPort answers the subset of the control protocol the controller
// uses and records every command line it receives.
type fakeControlPort struct {
	listener     net.Listener
	credential   string
	rejectSignal bool

	mu       sync.Mutex
	commands []string
}

func newFakeControlPort(t *testing.T, credential string) *fakeControlPort {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeControlPort{listener: ln, credential: credential}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeControlPort) Addr() string {
	return f.listener.Addr().String()
}

func (f *fakeControlPort) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

func (f *fakeControlPort) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeControlPort) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	authenticated := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.commands = append(f.commands, line)
		rejectSignal := f.rejectSignal
		f.mu.Unlock()

		switch {
		case strings.HasPrefix(line, "AUTHENTICATE"):
			if strings.TrimSpace(strings.TrimPrefix(line, "AUTHENTICATE")) != f.credential {
				conn.Write([]byte("515 Authentication failed: Password did not match HashedControlPassword value from configuration\r\n"))
				return
			}
			authenticated = true
			conn.Write([]byte("250 OK\r\n"))
		case !authenticated:
			conn.Write([]byte("514 Authentication required.\r\n"))
			return
		case line == "SIGNAL NEWNYM" && !rejectSignal:
			conn.Write([]byte("250 OK\r\n"))
		case strings.HasPrefix(line, "SIGNAL "):
			conn.Write([]byte("552 Unrecognized signal code \"" + strings.TrimPrefix(line, "SIGNAL ") + "\"\r\n"))
		default:
			conn.Write([]byte("510 Unrecognized command\r\n"))
		}
	}
}

func TestControllerNewIdentityEmptyPassword(t *testing.T) {
	t.Parallel()

	port := newFakeControlPort(t, "")
	ctrl := NewController(port.Addr(), ControlAuth{}, time.Second)

	if err := ctrl.NewIdentity(context.Background()); err != nil {
		t.Fatalf("new identity: %v", err)
	}

	waitForCommands(t, port, 2)
	got := port.Commands()
	want := []string{"AUTHENTICATE", "SIGNAL NEWNYM"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %q, want %q", got, want)
		}
	}
}

func TestControllerPasswordQuoting(t *testing.T) {
	t.Parallel()

	port := newFakeControlPort(t, `"p\"w\\d"`)
	ctrl := NewController(port.Addr(), ControlAuth{Password: `p"w\d`}, time.Second)

	if err := ctrl.NewIdentity(context.Background()); err != nil {
		t.Fatalf("new identity: %v", err)
	}
}

func TestControllerCookieAuth(t *testing.T) {
	t.Parallel()

	cookie := filepath.Join(t.TempDir(), "control_auth_cookie")
	if err := os.WriteFile(cookie, []byte{0xde, 0xad, 0xbe, 0xef}, 0o600); err != nil {
		t.Fatalf("write cookie: %v", err)
	}
	port := newFakeControlPort(t, "DEADBEEF")
	ctrl := NewController(port.Addr(), ControlAuth{Password: "ignored", CookieFile: cookie}, time.Second)

	if err := ctrl.NewIdentity(context.Background()); err != nil {
		t.Fatalf("new identity: %v", err)
	}
}

func TestControllerErrors(t *testing.T) {
	t.Parallel()

	t.Run("wrong password", func(t *testing.T) {
		t.Parallel()
		port := newFakeControlPort(t, `"secret"`)
		err := NewController(port.Addr(), ControlAuth{Password: "nope"}, time.Second).NewIdentity(context.Background())
		if !errors.Is(err, ErrControlAuth) {
			t.Fatalf("expected ErrControlAuth, got %v", err)
		}
	})

	t.Run("missing cookie file", func(t *testing.T) {
		t.Parallel()
		port := newFakeControlPort(t, "DEADBEEF")
		auth := ControlAuth{CookieFile: filepath.Join(t.TempDir(), "missing")}
		err := NewController(port.Addr(), auth, time.Second).NewIdentity(context.Background())
		if !errors.Is(err, ErrControlAuth) {
			t.Fatalf("expected ErrControlAuth, got %v", err)
		}
	})

	t.Run("signal rejected", func(t *testing.T) {
		t.Parallel()
		port := newFakeControlPort(t, "")
		port.mu.Lock()
		port.rejectSignal = true
		port.mu.Unlock()
		err := NewController(port.Addr(), ControlAuth{}, time.Second).NewIdentity(context.Background())
		if !errors.Is(err, ErrControlSignal) {
			t.Fatalf("expected ErrControlSignal, got %v", err)
		}
		if !strings.Contains(err.Error(), "552") {
			t.Fatalf("expected tor reply code in error, got %v", err)
		}
	})

	t.Run("nothing listening", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addr := ln.Addr().String()
		ln.Close()

		err = NewController(addr, ControlAuth{}, time.Second).NewIdentity(context.Background())
		if !errors.Is(err, ErrControlConnect) {
			t.Fatalf("expected ErrControlConnect, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		port := newFakeControlPort(t, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := NewController(port.Addr(), ControlAuth{}, time.Second).NewIdentity(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if got := port.Commands(); len(got) != 0 {
			t.Fatalf("cancelled call sent %q", got)
		}
	})
}

func waitForCommands(t *testing.T, port *fakeControlPort, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(port.Commands()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fake control port saw %d commands, want %d", len(port.Commands()), n)
}
