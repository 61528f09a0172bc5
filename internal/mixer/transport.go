package mixer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Default network settings for XR18-class mixers.
const (
	// DefaultHost is the mixer address used when none is configured.
	DefaultHost = "192.168.1.100"

	// DefaultPort is the mixer's OSC port.
	DefaultPort = 10024

	// DefaultLocalPort is the fixed local port the listener binds.
	DefaultLocalPort = 10025

	// writeTimeout bounds a single datagram send.
	writeTimeout = time.Second

	// incomingQueueSize is the number of datagrams buffered between the
	// socket readers and Receive.
	incomingQueueSize = 256
)

// Transport is a connectionless datagram endpoint pair.
type Transport interface {
	// Send writes one datagram to the mixer.
	Send(datagram []byte) error

	// Receive blocks until a datagram arrives, ctx is done, or the
	// transport is closed (ErrTransportClosed).
	Receive(ctx context.Context) ([]byte, error)

	// Close releases both endpoints. Safe to call more than once.
	Close() error
}

// dropCounter is implemented by transports that discard datagrams when
// their receive queue is full.
type dropCounter interface {
	Dropped() uint64
}

// TransportConfig addresses the mixer.
type TransportConfig struct {
	Host      string
	Port      int
	LocalPort int
}

// DialFunc opens a Transport. Tests replace it with a mock.
type DialFunc func(ctx context.Context, cfg TransportConfig) (Transport, error)

// Ensure UDPTransport implements Transport.
var _ Transport = (*UDPTransport)(nil)

// UDPTransport listens on a fixed local port and sends from a separate
// outbound socket connected to the mixer. The mixer replies to whichever
// port a request came from, so both sockets are read.
type UDPTransport struct {
	listener *net.UDPConn
	outbound *net.UDPConn

	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped atomic.Uint64
}

// DialUDP binds the listener on cfg.LocalPort (all interfaces) and
// connects the outbound socket to cfg.Host:cfg.Port.
func DialUDP(ctx context.Context, cfg TransportConfig) (*UDPTransport, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.LocalPort)))
	if err != nil {
		return nil, fmt.Errorf("binding listener on port %d: %w", cfg.LocalPort, err)
	}
	listener, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("binding listener: unexpected connection type %T", pc)
	}

	var d net.Dialer
	c, err := d.DialContext(ctx, "udp4", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("dialling mixer %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	outbound, ok := c.(*net.UDPConn)
	if !ok {
		listener.Close()
		c.Close()
		return nil, fmt.Errorf("dialling mixer: unexpected connection type %T", c)
	}

	t := &UDPTransport{
		listener: listener,
		outbound: outbound,
		incoming: make(chan []byte, incomingQueueSize),
		done:     make(chan struct{}),
	}

	t.wg.Add(2)
	go t.readLoop(listener)
	go t.readLoop(outbound)

	return t, nil
}

// readLoop copies datagrams from conn into the incoming queue until the
// transport is closed. Datagrams are dropped when the queue is full.
func (t *UDPTransport) readLoop(conn *net.UDPConn) {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if t.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case t.incoming <- data:
		case <-t.done:
			return
		default:
			t.dropped.Add(1)
		}
	}
}

// Send writes one datagram through the outbound socket.
func (t *UDPTransport) Send(datagram []byte) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	if err := t.outbound.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := t.outbound.Write(datagram); err != nil {
		return fmt.Errorf("sending datagram: %w", err)
	}
	return nil
}

// Receive returns the next datagram from either socket.
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrTransportClosed
	case data := <-t.incoming:
		return data, nil
	}
}

// Close shuts both sockets and waits for the readers to exit.
func (t *UDPTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.done)
		if err := t.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing listener: %w", err))
		}
		if err := t.outbound.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing outbound: %w", err))
		}
		t.wg.Wait()
	})
	return errors.Join(errs...)
}

// Dropped returns the number of datagrams discarded on a full queue.
func (t *UDPTransport) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *UDPTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func dialUDP(ctx context.Context, cfg TransportConfig) (Transport, error) {
	return DialUDP(ctx, cfg)
}
