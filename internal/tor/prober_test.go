package tor

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/onionprobe/internal/model"
)

// socksReplyNone makes the mock proxy accept the CONNECT and then hang.
const socksReplyNone = -1

// startMockSOCKS starts a minimal SOCKS5 proxy that answers every CONNECT
// with reply and reports the requested "host:port" on the returned channel.
func startMockSOCKS(t *testing.T, reply int) (string, <-chan string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start mock proxy: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	requests := make(chan string, 16)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveMockSOCKS(conn, reply, requests)
		}
	}()

	return listener.Addr().String(), requests
}

func serveMockSOCKS(conn net.Conn, reply int, requests chan<- string) {
	defer conn.Close()

	greeting := make([]byte, 3)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		return
	}

	// VER CMD RSV ATYP LEN
	header := make([]byte, 5)
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	rest := make([]byte, int(header[4])+2)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return
	}
	host := string(rest[:header[4]])
	port := int(rest[len(rest)-2])<<8 | int(rest[len(rest)-1])
	requests <- net.JoinHostPort(host, strconv.Itoa(port))

	if reply == socksReplyNone {
		_, _ = io.Copy(io.Discard, conn)
		return
	}

	_, _ = conn.Write([]byte{0x05, byte(reply), 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	_, _ = io.Copy(io.Discard, conn)
}

func newTestProber(t *testing.T, reply int, opts ...ProberOption) (*Prober, <-chan string) {
	t.Helper()

	addr, requests := startMockSOCKS(t, reply)
	client, err := NewClient(addr, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return NewProber(client, opts...), requests
}

// TestProberProbe tests the outcome of a probe against proxy replies.
func TestProberProbe(t *testing.T) {
	t.Parallel()

	t.Run("successful stream is reachable", func(t *testing.T) {
		t.Parallel()

		prober, requests := newTestProber(t, 0x00)

		outcome, err := prober.Probe(context.Background(), testOnionV3Addr1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := outcome.(model.Reachable); !ok {
			t.Fatalf("expected Reachable, got %T (%s)", outcome, outcome.Detail())
		}
		if got := <-requests; got != testOnionV3Addr1+":80" {
			t.Errorf("expected default port 80, dialed %q", got)
		}
	})

	t.Run("configured port is dialed", func(t *testing.T) {
		t.Parallel()

		prober, requests := newTestProber(t, 0x00, WithPort(8080))

		if _, err := prober.Probe(context.Background(), testOnionV3Addr1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := <-requests; got != testOnionV3Addr1+":8080" {
			t.Errorf("expected port 8080, dialed %q", got)
		}
	})

	t.Run("endpoint port wins over configured port", func(t *testing.T) {
		t.Parallel()

		prober, requests := newTestProber(t, 0x00, WithPort(8080))

		if _, err := prober.Probe(context.Background(), "http://"+testOnionV3Addr1+":443/"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := <-requests; got != testOnionV3Addr1+":443" {
			t.Errorf("expected port 443, dialed %q", got)
		}
	})

	t.Run("standard refusals are unreachable", func(t *testing.T) {
		t.Parallel()

		replies := map[int]string{
			0x01: "general SOCKS server failure",
			0x04: "host unreachable",
			0x05: "connection refused",
			0x06: "TTL expired",
		}
		for code, reason := range replies {
			prober, _ := newTestProber(t, code)

			outcome, err := prober.Probe(context.Background(), testOnionV3Addr1)
			if err != nil {
				t.Fatalf("reply %#x: unexpected error: %v", code, err)
			}
			unreachable, ok := outcome.(model.Unreachable)
			if !ok {
				t.Fatalf("reply %#x: expected Unreachable, got %T (%s)", code, outcome, outcome.Detail())
			}
			if unreachable.Reason != reason {
				t.Errorf("reply %#x: expected reason %q, got %q", code, reason, unreachable.Reason)
			}
		}
	})

	t.Run("onion service errors are unreachable", func(t *testing.T) {
		t.Parallel()

		prober, _ := newTestProber(t, 0xF0)

		outcome, err := prober.Probe(context.Background(), testOnionV3Addr1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Status() != model.StatusUnreachable {
			t.Fatalf("expected unreachable, got %v (%s)", outcome.Status(), outcome.Detail())
		}
		if !strings.Contains(outcome.Detail(), "descriptor not found") {
			t.Errorf("unexpected reason %q", outcome.Detail())
		}
	})

	t.Run("bad address reply is a transport error", func(t *testing.T) {
		t.Parallel()

		prober, _ := newTestProber(t, 0xF6)

		outcome, err := prober.Probe(context.Background(), testOnionV3Addr1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Status() != model.StatusTransportError {
			t.Errorf("expected transport error, got %v (%s)", outcome.Status(), outcome.Detail())
		}
	})

	t.Run("silent proxy times out", func(t *testing.T) {
		t.Parallel()

		prober, _ := newTestProber(t, socksReplyNone)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		outcome, err := prober.Probe(ctx, testOnionV3Addr1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Status() != model.StatusTimedOut {
			t.Errorf("expected timed out, got %v (%s)", outcome.Status(), outcome.Detail())
		}
	})

	t.Run("malformed address is a transport error without dialing", func(t *testing.T) {
		t.Parallel()

		prober, requests := newTestProber(t, 0x00)

		for _, address := range []string{"not-an-onion", "facebookcorewwwi.onion", testOnionV3Addr1 + ":0"} {
			outcome, err := prober.Probe(context.Background(), address)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", address, err)
			}
			if outcome.Status() != model.StatusTransportError {
				t.Errorf("%s: expected transport error, got %v", address, outcome.Status())
			}
		}
		select {
		case got := <-requests:
			t.Errorf("expected no dial, proxy saw %q", got)
		default:
		}
	})

	t.Run("dead proxy is a transport error", func(t *testing.T) {
		t.Parallel()

		client, err := NewClient("127.0.0.1:1", time.Second)
		if err != nil {
			t.Fatalf("failed to create client: %v", err)
		}

		outcome, err := NewProber(client).Probe(context.Background(), testOnionV3Addr1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Status() != model.StatusTransportError {
			t.Errorf("expected transport error, got %v", outcome.Status())
		}
	})

	t.Run("missing dialer is an error", func(t *testing.T) {
		t.Parallel()

		_, err := NewProber(nil).Probe(context.Background(), testOnionV3Addr1)
		if !errors.Is(err, ErrTorNotRunning) {
			t.Errorf("expected ErrTorNotRunning, got %v", err)
		}
	})
}

// TestClassifyDialError tests reply parsing independently of a proxy.
func TestClassifyDialError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want model.Status
	}{
		{"host unreachable", errors.New("socks connect tcp a->b: unknown error host unreachable"), model.StatusUnreachable},
		{"intro timeout", errors.New("socks connect tcp a->b: unknown error unknown code: 247"), model.StatusUnreachable},
		{"bad address", errors.New("socks connect tcp a->b: unknown error unknown code: 246"), model.StatusTransportError},
		{"unlisted code", errors.New("socks connect tcp a->b: unknown error unknown code: 9"), model.StatusTransportError},
		{"ruleset", errors.New("socks connect tcp a->b: unknown error connection not allowed by ruleset"), model.StatusTransportError},
		{"io error", errors.New("connection reset by peer"), model.StatusTransportError},
		{"deadline", context.DeadlineExceeded, model.StatusTimedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := classifyDialError(context.Background(), tt.err, time.Second)
			if got.Status() != tt.want {
				t.Errorf("expected %v, got %v (%s)", tt.want, got.Status(), got.Detail())
			}
		})
	}
}
