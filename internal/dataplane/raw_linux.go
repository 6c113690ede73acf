//go:build linux

package dataplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/bpf"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Raw: AF_PACKET dataplane
// -------------------------------------------------------------------------

// Raw is a Dataplane backed by one AF_PACKET socket per test port.
// Opening it requires CAP_NET_RAW.
type Raw struct {
	socks   map[int]*rawSocket
	queue   chan Frame
	metrics Metrics
	logger  *slog.Logger

	// recv reads one frame; unix.Recvfrom outside tests.
	recv func(fd int, buf []byte, flags int) (int, unix.Sockaddr, error)

	cancel    context.CancelFunc
	group     *errgroup.Group
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type rawSocket struct {
	port    int
	ifName  string
	ifIndex int
	mac     net.HardwareAddr
	fd      int
}

// OpenRaw opens a socket on every interface in cfg and starts one reader
// goroutine per port. Readers stop when ctx is cancelled or Close is called.
func OpenRaw(ctx context.Context, cfg RawConfig, logger *slog.Logger, opts ...RawOption) (*Raw, error) {
	if len(cfg.Interfaces) == 0 {
		return nil, fmt.Errorf("open raw dataplane: %w", ErrNoPorts)
	}

	r := &Raw{
		socks:   make(map[int]*rawSocket, len(cfg.Interfaces)),
		queue:   make(chan Frame, cfg.queueSize()),
		metrics: noopMetrics{},
		logger:  logger.With(slog.String("component", "dataplane.raw")),
		recv:    unix.Recvfrom,
	}
	for _, o := range opts {
		o(r)
	}

	for _, port := range slices.Sorted(maps.Keys(cfg.Interfaces)) {
		s, err := openSocket(port, cfg.Interfaces[port], cfg.IPv4Only)
		if err != nil {
			return nil, errors.Join(err, r.closeSockets())
		}
		r.socks[port] = s

		r.logger.Debug("port opened",
			slog.Int("port", port),
			slog.String("interface", s.ifName),
			slog.String("mac", s.mac.String()),
		)
	}

	r.start(ctx)

	r.logger.Info("raw dataplane started", slog.Int("ports", len(r.socks)))

	return r, nil
}

// start launches one reader per socket. Readers never fail the group, so
// a port with a read error does not stop its siblings.
func (r *Raw) start(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.group = &errgroup.Group{}
	for _, s := range r.socks {
		r.group.Go(func() error {
			r.readLoop(rctx, s)
			return nil
		})
	}
}

// MAC returns the hardware address of the interface behind port.
func (r *Raw) MAC(port int) (net.HardwareAddr, error) {
	s, ok := r.socks[port]
	if !ok {
		return nil, fmt.Errorf("port %d: %w", port, ErrUnknownPort)
	}
	return s.mac, nil
}

// Send writes frame to the interface behind port.
func (r *Raw) Send(ctx context.Context, port int, frame []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send port %d: %w", port, err)
	}

	s, ok := r.socks[port]
	if !ok {
		return fmt.Errorf("send port %d: %w", port, ErrUnknownPort)
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  s.ifIndex,
		Halen:    6,
	}
	if len(frame) >= 6 {
		copy(sa.Addr[:], frame[:6])
	}

	if err := unix.Sendto(s.fd, frame, 0, sa); err != nil {
		return fmt.Errorf("send port %d (%s): %w", port, s.ifName, err)
	}
	return nil
}

// Poll returns the next received frame from any port.
func (r *Raw) Poll(ctx context.Context, timeout time.Duration) (Frame, error) {
	if r.closed.Load() {
		return Frame{}, ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-r.queue:
		return f, nil
	case <-timer.C:
		return Frame{}, ErrPollTimeout
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("poll: %w", ctx.Err())
	}
}

// Flush drops every queued frame.
func (r *Raw) Flush() int {
	n := 0
	for {
		select {
		case <-r.queue:
			n++
		default:
			return n
		}
	}
}

// Close stops the readers and closes every socket. Readers are waited for
// before their descriptors are closed.
func (r *Raw) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()

		r.closeErr = errors.Join(r.group.Wait(), r.closeSockets())
		r.logger.Info("raw dataplane stopped")
	})
	return r.closeErr
}

func (r *Raw) closeSockets() error {
	var errs []error
	for port, s := range r.socks {
		if err := unix.Close(s.fd); err != nil {
			errs = append(errs, fmt.Errorf("close port %d (%s): %w", port, s.ifName, err))
		}
		delete(r.socks, port)
	}
	return errors.Join(errs...)
}

// readLoop copies frames from one socket into the shared queue until ctx
// is done. Frames the host itself transmitted are skipped; a full queue
// drops the frame. Read errors such as ENETDOWN during a link flap are
// logged and retried after readErrorBackoff.
func (r *Raw) readLoop(ctx context.Context, s *rawSocket) {
	buf := make([]byte, maxFrameSize)

	for {
		if ctx.Err() != nil {
			return
		}

		n, from, err := r.recv(s.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			r.metrics.IncFramesDropped(s.port)
			r.logger.Warn("read error",
				slog.Int("port", s.port),
				slog.String("interface", s.ifName),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, readErrorBackoff) {
				return
			}
			continue
		}

		if ll, ok := from.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}

		f := Frame{
			Port: s.port,
			Data: append([]byte(nil), buf[:n]...),
			At:   time.Now(),
		}
		r.metrics.IncFramesReceived(s.port)

		select {
		case r.queue <- f:
		default:
			r.metrics.IncFramesDropped(s.port)
			r.logger.Debug("receive queue full, frame dropped", slog.Int("port", s.port))
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// -------------------------------------------------------------------------
// Socket setup
// -------------------------------------------------------------------------

// openSocket creates an AF_PACKET socket bound to ifName.
//
// Options set:
//   - SO_RCVTIMEO: readers wake up every readTimeout to check for shutdown
//   - SO_ATTACH_FILTER: IPv4Filter, when ipv4Only is set
func openSocket(port int, ifName string, ipv4Only bool) (*rawSocket, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("port %d: interface %s: %w", port, ifName, err)
	}

	// Protocol 0 receives nothing until the bind below selects ETH_P_ALL
	// on ifIndex, so no frame from another interface is queued.
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("port %d: socket on %s: %w", port, ifName, err)
	}

	if err := applySockOpts(fd, ifi.Index, ipv4Only); err != nil {
		return nil, errors.Join(
			fmt.Errorf("port %d (%s): %w", port, ifName, err),
			unix.Close(fd),
		)
	}

	return &rawSocket{
		port:    port,
		ifName:  ifName,
		ifIndex: ifi.Index,
		mac:     ifi.HardwareAddr,
		fd:      fd,
	}, nil
}

func applySockOpts(fd, ifIndex int, ipv4Only bool) error {
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("set SO_RCVTIMEO: %w", err)
	}

	if ipv4Only {
		if err := attachFilter(fd, IPv4Filter()); err != nil {
			return err
		}
	}

	// Bind last: the socket starts receiving only now, filtered and
	// restricted to ifIndex.
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifIndex,
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("bind ifindex %d: %w", ifIndex, err)
	}

	return nil
}

func attachFilter(fd int, prog []bpf.Instruction) error {
	raw, err := assembleFilter(prog)
	if err != nil {
		return err
	}

	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{
		//nolint:gosec // G115: filters are a handful of instructions.
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return fmt.Errorf("set SO_ATTACH_FILTER: %w", err)
	}
	return nil
}

// htons converts a 16-bit value to network byte order.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
