package tor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/onionprobe/internal/model"
)

// DefaultProbePort is the port dialed when neither the endpoint nor the
// prober specifies one.
const DefaultProbePort = 80

// Dialer opens connections through an anonymity network. *Client
// satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober checks onion-service reachability by opening a TCP stream to the
// service through Tor and closing it at once. A stream that Tor manages to
// attach to a rendezvous circuit means the service is up.
type Prober struct {
	dialer Dialer
	port   int
	logger *slog.Logger
	now    func() time.Time
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithPort sets the port dialed for endpoints that carry none.
func WithPort(port int) ProberOption {
	return func(p *Prober) {
		p.port = port
	}
}

// WithProberLogger sets a custom logger for the prober.
func WithProberLogger(logger *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// NewProber creates a Prober that dials through dialer.
func NewProber(dialer Dialer, opts ...ProberOption) *Prober {
	p := &Prober{
		dialer: dialer,
		port:   DefaultProbePort,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// Probe opens and closes one stream to address.
//
// Reachability failures are returned as outcomes, never as errors:
// malformed addresses become model.TransportError, Tor refusals become
// model.Unreachable, and an expired ctx becomes model.TimedOut.
func (p *Prober) Probe(ctx context.Context, address string) (model.Outcome, error) {
	if p.dialer == nil {
		return nil, ErrTorNotRunning
	}

	host, port, err := ParseEndpoint(address)
	if err != nil {
		return model.TransportError{Message: fmt.Sprintf("%s: %v", address, err)}, nil
	}
	if port == 0 {
		port = p.port
	}
	endpoint := net.JoinHostPort(host, strconv.Itoa(port))

	start := p.now()
	conn, err := p.dialer.DialContext(ctx, "tcp", endpoint)
	latency := p.now().Sub(start)

	if err != nil {
		outcome := classifyDialError(ctx, err, latency)
		p.logger.Debug("probe failed",
			"endpoint", endpoint,
			"status", outcome.Status().String(),
			"error", err,
		)
		return outcome, nil
	}

	if err := conn.Close(); err != nil {
		p.logger.Debug("failed to close probe stream", "endpoint", endpoint, "error", err)
	}

	return model.Reachable{Latency: latency}, nil
}

// socksReplyMarker precedes the reply text in errors from
// golang.org/x/net/proxy when the proxy answers CONNECT with a failure.
const socksReplyMarker = "unknown error "

// socksUnreachable lists standard SOCKS5 replies that mean the service
// could not be reached.
var socksUnreachable = map[string]bool{
	"general SOCKS server failure": true,
	"network unreachable":          true,
	"host unreachable":             true,
	"connection refused":           true,
	"TTL expired":                  true,
}

// torExtendedReply describes one of Tor's onion-service SOCKS5 extended
// error codes.
type torExtendedReply struct {
	reason      string
	unreachable bool
}

// torExtendedReplies maps Tor's 0xF0-0xF7 reply codes.
var torExtendedReplies = map[int]torExtendedReply{
	0xF0: {"onion service descriptor not found", true},
	0xF1: {"onion service descriptor is invalid", true},
	0xF2: {"onion service introduction failed", true},
	0xF3: {"onion service rendezvous failed", true},
	0xF4: {"onion service requires client authorization", true},
	0xF5: {"onion service client authorization is wrong", true},
	0xF6: {"onion service address is invalid", false},
	0xF7: {"onion service introduction timed out", true},
}

// classifyDialError maps a dial that failed after elapsed to an outcome.
func classifyDialError(ctx context.Context, err error, elapsed time.Duration) model.Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.TimedOut{After: elapsed}
	}

	reply, ok := socksReply(err)
	if !ok {
		return model.TransportError{Message: err.Error()}
	}

	if socksUnreachable[reply] {
		return model.Unreachable{Reason: reply}
	}

	if code, ok := strings.CutPrefix(reply, "unknown code: "); ok {
		if n, err := strconv.Atoi(code); err == nil {
			if ext, ok := torExtendedReplies[n]; ok {
				if ext.unreachable {
					return model.Unreachable{Reason: ext.reason}
				}
				return model.TransportError{Message: ext.reason}
			}
		}
	}

	return model.TransportError{Message: "proxy refused stream: " + reply}
}

// socksReply extracts the proxy's reply text from a dial error.
func socksReply(err error) (string, bool) {
	msg := err.Error()
	idx := strings.LastIndex(msg, socksReplyMarker)
	if idx == -1 {
		return "", false
	}
	return msg[idx+len(socksReplyMarker):], true
}
