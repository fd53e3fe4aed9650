package motion

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/motionlan/protocol"
)

// EventListener receives multicast pushes with a blocking read and
// dispatches each push inline on the receive goroutine. That keeps the
// variant lean, at the price that a blocking callback stalls all further
// dispatch; callers must keep callbacks brief. ThreadedListener is the
// variant that isolates slow targets from each other.
//
// The exported fields configure the listener and must be set before
// StartListen. Zero values select the protocol defaults.
type EventListener struct {
	// Interface is the network interface to join the multicast group on.
	// Empty or "any" selects the system default.
	Interface string
	// Group is the multicast group address pushes arrive on.
	Group string
	// SendPort is the destination port for reachability probes.
	SendPort int
	// ReceivePort is the local port the listener binds.
	ReceivePort int

	logger *zap.Logger

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	sock       *multicastSocket
	probeDest  *net.UDPAddr
	recvSignal chan struct{}
	targets    map[PushTarget]struct{}
	wg         sync.WaitGroup
}

// NewEventListener returns a listener joining the report group on the
// named interface ("" or "any" for the system default). A nil logger
// disables logging.
func NewEventListener(iface string, logger *zap.Logger) *EventListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventListener{
		Interface:   iface,
		Group:       protocol.MulticastGroup,
		SendPort:    protocol.PortCommand,
		ReceivePort: protocol.PortReport,
		logger:      logger,
		targets:     make(map[PushTarget]struct{}),
	}
}

// StartListen binds the report port, joins the multicast group and starts
// the receive loop. Fails with ErrAlreadyListening when already running.
func (l *EventListener) StartListen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyListening
	}

	ifi, err := resolveInterface(l.Interface)
	if err != nil {
		return err
	}
	group := l.Group
	if group == "" {
		group = protocol.MulticastGroup
	}
	recvPort := l.ReceivePort
	if recvPort == 0 {
		recvPort = protocol.PortReport
	}
	sendPort := l.SendPort
	if sendPort == 0 {
		sendPort = protocol.PortCommand
	}

	sock, err := openMulticast(group, recvPort, ifi)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.sock = sock
	l.cancel = cancel
	l.probeDest = &net.UDPAddr{IP: net.ParseIP(group), Port: sendPort}
	l.recvSignal = make(chan struct{}, 1)
	l.running = true

	l.wg.Add(1)
	go l.listen(ctx, sock, l.recvSignal)

	l.logger.Info("multicast listener started",
		zap.String("group", group), zap.Int("port", recvPort))
	return nil
}

// StopListen closes the socket to unblock the pending read and waits for
// the in-flight dispatch, if any, to complete. A no-op when not running.
func (l *EventListener) StopListen() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	sock := l.sock
	cancel := l.cancel
	l.sock = nil
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	sock.close()
	l.wg.Wait()

	l.logger.Info("multicast listener stopped")
}

// Subscribe registers a routing target for pushes. Subscribing the same
// target twice has no effect.
func (l *EventListener) Subscribe(t PushTarget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets[t] = struct{}{}
}

// Unsubscribe removes a routing target.
func (l *EventListener) Unsubscribe(t PushTarget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.targets, t)
}

// CheckReachable sends a discovery probe to the multicast group and waits
// for any datagram to arrive on the listening socket.
func (l *EventListener) CheckReachable(timeout time.Duration) bool {
	l.mu.Lock()
	sock, sig, dest := l.sock, l.recvSignal, l.probeDest
	l.mu.Unlock()
	if sock == nil {
		l.logger.Warn("CheckReachable requires a running listener")
		return false
	}
	return checkReachable(sock, sig, dest, timeout, l.logger)
}

// listen blocks on the socket until StopListen closes it.
func (l *EventListener) listen(ctx context.Context, sock *multicastSocket, sig chan struct{}) {
	defer l.wg.Done()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, src, err := sock.read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("multicast read failed", zap.Error(err))
			continue
		}

		signalReceive(sig)
		l.dispatch(buf[:n], src)
	}
}

// dispatch parses one datagram and hands it synchronously to every
// subscribed target that recognizes the MAC.
func (l *EventListener) dispatch(datagram []byte, src *net.UDPAddr) {
	env, err := protocol.ParseEnvelope(datagram)
	if err != nil {
		l.logger.Warn("dropping malformed multicast datagram",
			zap.String("source", src.IP.String()), zap.Error(err))
		return
	}
	l.logger.Debug("multicast push",
		zap.String("source", src.IP.String()), zap.Stringer("push", env))

	l.mu.Lock()
	targets := make([]PushTarget, 0, len(l.targets))
	for t := range l.targets {
		targets = append(targets, t)
	}
	l.mu.Unlock()

	matched := false
	for _, t := range targets {
		if t.wantsMAC(env.MAC) {
			matched = true
			t.handlePush(env)
		}
	}
	if !matched {
		l.logger.Debug("push for an unknown device", zap.String("mac", env.MAC))
	}
}
