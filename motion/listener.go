package motion

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/motionlan/protocol"
)

// listenPollInterval bounds how long StopListen waits for the receive
// loop to notice the stop flag.
const listenPollInterval = 500 * time.Millisecond

// pushQueueDepth is the per-target buffer between the receive loop and a
// target's dispatch worker. A target whose callback has stalled for this
// many pushes starts losing them; UDP loses pushes anyway.
const pushQueueDepth = 16

// PushTarget receives multicast pushes routed by device MAC. Gateway
// implements it; the listener dispatches each push to every subscribed
// target that recognizes the MAC.
type PushTarget interface {
	wantsMAC(mac string) bool
	handlePush(env *protocol.Envelope)
}

// Listener is the shared contract of the two multicast listener variants.
// A listener owns the multicast socket; gateways only subscribe to it, so
// one process never binds the report group twice.
type Listener interface {
	// StartListen binds the multicast socket and starts receiving. A
	// second call without an intervening StopListen fails with
	// ErrAlreadyListening.
	StartListen() error
	// StopListen stops receiving and releases the socket. After it
	// returns no further push is dispatched. Stopping a listener that is
	// not running is a no-op.
	StopListen()
	// Subscribe registers a routing target. May be called before
	// StartListen and survives restarts.
	Subscribe(t PushTarget)
	// Unsubscribe removes a routing target.
	Unsubscribe(t PushTarget)
	// CheckReachable sends a probe to the multicast group and reports
	// whether anything came back on the listening socket within timeout.
	// False when the listener is not running.
	CheckReachable(timeout time.Duration) bool
}

// resolveInterface turns a name into the interface to join on. Empty or
// "any" selects the system default.
func resolveInterface(name string) (*net.Interface, error) {
	if name == "" || name == "any" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: interface %q: %s", ErrInvalidArgument, name, err)
	}
	return ifi, nil
}

// reachabilityProbe builds the self-addressed discovery datagram used by
// CheckReachable. Hearing it loop back, or any gateway answering it,
// confirms the listening path works.
func reachabilityProbe() ([]byte, error) {
	env := &protocol.Envelope{
		MsgType: protocol.TypeGetDeviceList,
		MsgID:   protocol.NewMsgID(time.Now()),
	}
	return env.Marshal()
}

// checkReachable implements CheckReachable against an open socket: drain
// any stale receipt signal, send the probe to the group, then wait for
// the receive loop to flag the next datagram.
func checkReachable(sock *multicastSocket, sig chan struct{}, dest *net.UDPAddr, timeout time.Duration, logger *zap.Logger) bool {
	select {
	case <-sig:
	default:
	}

	probe, err := reachabilityProbe()
	if err != nil {
		logger.Error("cannot build reachability probe", zap.Error(err))
		return false
	}
	if err := sock.sendTo(dest, probe); err != nil {
		logger.Warn("cannot send reachability probe", zap.Error(err))
		return false
	}

	select {
	case <-sig:
		return true
	case <-time.After(timeout):
		return false
	}
}

// signalReceive flags a received datagram without blocking the loop.
func signalReceive(sig chan struct{}) {
	select {
	case sig <- struct{}{}:
	default:
	}
}

// ThreadedListener receives multicast pushes on a dedicated goroutine.
// Each subscribed target gets its own dispatch worker, so one target's
// slow callback delays only that target's pushes.
//
// The exported fields configure the listener and must be set before
// StartListen. Zero values select the protocol defaults.
type ThreadedListener struct {
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
	stop       chan struct{}
	sock       *multicastSocket
	probeDest  *net.UDPAddr
	recvSignal chan struct{}
	targets    map[PushTarget]struct{}
	queues     map[PushTarget]*pushQueue
	loopWG     sync.WaitGroup
	workerWG   sync.WaitGroup
}

type pushQueue struct {
	ch chan *protocol.Envelope
}

// NewThreadedListener returns a listener joining the report group on the
// named interface ("" or "any" for the system default). A nil logger
// disables logging.
func NewThreadedListener(iface string, logger *zap.Logger) *ThreadedListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadedListener{
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
func (l *ThreadedListener) StartListen() error {
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

	l.sock = sock
	l.probeDest = &net.UDPAddr{IP: net.ParseIP(group), Port: sendPort}
	l.stop = make(chan struct{})
	l.recvSignal = make(chan struct{}, 1)
	l.queues = make(map[PushTarget]*pushQueue)
	l.running = true

	l.loopWG.Add(1)
	go l.listen(sock, l.stop, l.recvSignal)

	l.logger.Info("multicast listener started",
		zap.String("group", group), zap.Int("port", recvPort))
	return nil
}

// StopListen stops the receive loop, waits for every in-flight dispatch to
// finish and closes the socket. A no-op when not running.
func (l *ThreadedListener) StopListen() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	sock := l.sock
	l.sock = nil
	close(l.stop)
	l.mu.Unlock()

	// The loop wakes at its poll deadline, sees the stop flag and exits;
	// only then is the socket closed, mirroring start order in reverse.
	l.loopWG.Wait()
	sock.close()

	l.mu.Lock()
	for _, q := range l.queues {
		close(q.ch)
	}
	l.queues = nil
	l.mu.Unlock()
	l.workerWG.Wait()

	l.logger.Info("multicast listener stopped")
}

// Subscribe registers a routing target for pushes. Subscribing the same
// target twice has no effect.
func (l *ThreadedListener) Subscribe(t PushTarget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets[t] = struct{}{}
}

// Unsubscribe removes a routing target. Pushes already queued for it may
// still be dispatched shortly after this returns.
func (l *ThreadedListener) Unsubscribe(t PushTarget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.targets, t)
	if q, ok := l.queues[t]; ok {
		delete(l.queues, t)
		close(q.ch)
	}
}

// CheckReachable sends a discovery probe to the multicast group and waits
// for any datagram to arrive on the listening socket.
func (l *ThreadedListener) CheckReachable(timeout time.Duration) bool {
	l.mu.Lock()
	sock, sig, dest := l.sock, l.recvSignal, l.probeDest
	l.mu.Unlock()
	if sock == nil {
		l.logger.Warn("CheckReachable requires a running listener")
		return false
	}
	return checkReachable(sock, sig, dest, timeout, l.logger)
}

// listen is the receive loop. It polls with a short deadline so the stop
// flag is honored even when the network is silent.
func (l *ThreadedListener) listen(sock *multicastSocket, stop, sig chan struct{}) {
	defer l.loopWG.Done()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		sock.setReadDeadline(time.Now().Add(listenPollInterval))
		n, src, err := sock.read(buf)
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("multicast read failed", zap.Error(err))
			continue
		}

		signalReceive(sig)

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		l.route(datagram, src)
	}
}

// route parses one datagram and hands it to the queue of every subscribed
// target that recognizes the MAC. Unmatched pushes are dropped quietly.
func (l *ThreadedListener) route(datagram []byte, src *net.UDPAddr) {
	env, err := protocol.ParseEnvelope(datagram)
	if err != nil {
		l.logger.Warn("dropping malformed multicast datagram",
			zap.String("source", src.IP.String()), zap.Error(err))
		return
	}
	l.logger.Debug("multicast push",
		zap.String("source", src.IP.String()), zap.Stringer("push", env))

	l.mu.Lock()
	defer l.mu.Unlock()
	matched := false
	for t := range l.targets {
		if !t.wantsMAC(env.MAC) {
			continue
		}
		matched = true
		q := l.queues[t]
		if q == nil {
			q = &pushQueue{ch: make(chan *protocol.Envelope, pushQueueDepth)}
			l.queues[t] = q
			l.workerWG.Add(1)
			go l.drain(t, q)
		}
		select {
		case q.ch <- env:
		default:
			l.logger.Warn("push queue full, dropping",
				zap.String("mac", env.MAC), zap.String("msgType", env.MsgType))
		}
	}
	if !matched {
		l.logger.Debug("push for an unknown device", zap.String("mac", env.MAC))
	}
}

// drain delivers queued pushes to one target in arrival order.
func (l *ThreadedListener) drain(t PushTarget, q *pushQueue) {
	defer l.workerWG.Done()
	for env := range q.ch {
		t.handlePush(env)
	}
}
