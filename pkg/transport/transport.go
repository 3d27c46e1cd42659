// Package transport implements the reliable request/reply exchange the
// driftsync protocol runs on top of UDP.
//
// The contract is stop-and-wait: send one request, wait for one reply,
// retransmit on timeout, give up after a fixed number of attempts. There
// are no sequence numbers and no duplicate suppression, so a caller must
// never have more than one request outstanding per Exchanger. Multi-frame
// protocols (upload, sync) are chains of single exchanges.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/wire"
)

// Defaults for the retry loop.
const (
	DefaultTimeout  = 1 * time.Second
	DefaultAttempts = 5
)

// ErrExhausted is returned when every attempt timed out without a reply.
var ErrExhausted = errors.New("transport exhausted: no reply after all attempts")

// Options tunes an Exchanger. Zero values fall back to the defaults.
type Options struct {
	// Timeout is the per-attempt reply wait.
	Timeout time.Duration

	// Attempts is the total number of transmissions before giving up.
	Attempts int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	return o
}

// Exchanger owns one UDP socket and performs stop-and-wait exchanges on
// it. It is not safe for concurrent use; the protocol forbids concurrent
// outstanding requests anyway.
type Exchanger struct {
	conn *net.UDPConn
	opts Options
	buf  []byte
}

// NewExchanger binds an ephemeral local UDP socket.
func NewExchanger(opts Options) (*Exchanger, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("bind udp socket: %w", err)
	}
	return &Exchanger{
		conn: conn,
		opts: opts.withDefaults(),
		buf:  make([]byte, wire.MaxFrame),
	}, nil
}

// Exchange sends payload to dest and waits for the first reply from any
// address, retransmitting on timeout. The reply is returned verbatim with
// its source address. Returns ErrExhausted (wrapped) when every attempt
// timed out and the context error when ctx is done between attempts.
func (e *Exchanger) Exchange(ctx context.Context, dest *net.UDPAddr, payload []byte) ([]byte, *net.UDPAddr, error) {
	if len(payload) > wire.MaxRequest {
		return nil, nil, fmt.Errorf("payload %d bytes exceeds request limit %d", len(payload), wire.MaxRequest)
	}

	for attempt := 1; attempt <= e.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		if _, err := e.conn.WriteToUDP(payload, dest); err != nil {
			return nil, nil, fmt.Errorf("send to %s: %w", dest, err)
		}

		if err := e.conn.SetReadDeadline(time.Now().Add(e.opts.Timeout)); err != nil {
			return nil, nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, from, err := e.conn.ReadFromUDP(e.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if attempt < e.opts.Attempts {
					logger.Debug("No reply, retransmitting",
						logger.Attempt(attempt),
						logger.MaxRetries(e.opts.Attempts),
						logger.Client(dest.String()))
				}
				continue
			}
			return nil, nil, fmt.Errorf("receive: %w", err)
		}

		reply := make([]byte, n)
		copy(reply, e.buf[:n])
		return reply, from, nil
	}

	return nil, nil, fmt.Errorf("%s: %w", dest, ErrExhausted)
}

// ExchangeFrame is Exchange with wire.Frame in and out, replying with the
// parsed frame and its source.
func (e *Exchanger) ExchangeFrame(ctx context.Context, dest *net.UDPAddr, f wire.Frame) (wire.Frame, *net.UDPAddr, error) {
	reply, from, err := e.Exchange(ctx, dest, f.Bytes())
	if err != nil {
		return wire.Frame{}, nil, err
	}
	return wire.Parse(reply), from, nil
}

// LocalAddr returns the exchanger's bound address.
func (e *Exchanger) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket.
func (e *Exchanger) Close() error {
	return e.conn.Close()
}

// ResolveAddr resolves host and port to a UDP address. An empty host means
// localhost.
func ResolveAddr(host string, port int) (*net.UDPAddr, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}
	return addr, nil
}
