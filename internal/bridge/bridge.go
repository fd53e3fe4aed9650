package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/motionlan/internal/logging"
	"github.com/muurk/motionlan/motion"
)

const (
	// eventQueueSize buffers state changes between the merge paths that
	// produce them and the publisher. A full queue drops the newest event;
	// the retained MQTT topic and the next poll repair the loss.
	eventQueueSize = 64

	httpShutdownTimeout = 5 * time.Second

	mdnsInstance = "motionlan-bridge"
	mdnsService  = "_motionlan._tcp"
	mdnsDomain   = "local."
)

// Sentinel errors for command routing; surfaces map them onto their own
// status codes. Match with errors.Is.
var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrBadCommand    = errors.New("bad command")
)

// Bridge connects a set of gateways and re-publishes every state change
// over MQTT, REST and WebSocket. One Bridge owns its gateways: it registers
// the change callbacks, runs the multicast listener and drives the slow
// poll, so nothing else should command the same Gateway values.
type Bridge struct {
	cfg *Config

	// gwOpts is appended to every gateway constructor call. Tests inject
	// a redirecting transport here.
	gwOpts []motion.GatewayOption

	listener *motion.EventListener
	hub      *wsHub
	mqtt     mqtt.Client
	mdns     *zeroconf.Server

	mu       sync.Mutex
	gateways []*motion.Gateway
	wired    map[string]string // "gw:"/"dev:" + MAC -> callback id

	events chan Event
}

// New builds a bridge from cfg. Gateways are dialed by Run, not here.
func New(cfg *Config) (*Bridge, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return &Bridge{
		cfg:    cfg,
		hub:    newWSHub(),
		wired:  make(map[string]string),
		events: make(chan Event, eventQueueSize),
	}, nil
}

// Run connects the gateways and serves until ctx is cancelled or the HTTP
// listener fails. It returns nil on clean cancellation.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.connectGateways(); err != nil {
		return err
	}
	defer b.unwireAll()

	b.startListener()
	defer b.stopListener()

	stopPump := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		b.pump(stopPump)
	}()
	defer func() {
		close(stopPump)
		<-pumpDone
	}()

	if b.cfg.MQTT.Broker != "" {
		if err := b.connectMQTT(); err != nil {
			return err
		}
		defer b.disconnectMQTT()
	}

	var httpErr chan error
	if b.cfg.HTTP.Bind != "" {
		srv := &http.Server{Addr: b.cfg.HTTP.Bind, Handler: b.router()}
		httpErr = make(chan error, 1)
		go func() {
			logging.Info("HTTP surface listening", zap.String("bind", b.cfg.HTTP.Bind))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
			b.hub.closeAll()
		}()

		if b.cfg.HTTP.Advertise {
			if err := b.advertise(); err != nil {
				logging.Warn("mDNS advertisement failed", zap.Error(err))
			} else {
				defer b.mdns.Shutdown()
			}
		}
	}

	var tick <-chan time.Time
	if b.cfg.PollInterval > 0 {
		ticker := time.NewTicker(b.cfg.PollInterval.Std())
		defer ticker.Stop()
		tick = ticker.C
	}

	logging.Info("Bridge running",
		zap.Int("gateways", len(b.cfg.Gateways)),
		zap.String("mqtt", b.cfg.MQTT.Broker),
		zap.String("http", b.cfg.HTTP.Bind),
	)

	for {
		select {
		case <-ctx.Done():
			logging.Info("Bridge stopping")
			logging.Sync()
			return nil
		case err := <-httpErr:
			return fmt.Errorf("http surface: %w", err)
		case <-tick:
			b.poll()
		}
	}
}

// connectGateways dials every configured gateway and loads its roster. An
// individual gateway failing is logged and retried by the poll loop; only
// all of them failing aborts startup.
func (b *Bridge) connectGateways() error {
	connected := 0
	for _, gc := range b.cfg.Gateways {
		opts := append([]motion.GatewayOption{motion.WithLogger(logging.GetLogger())}, b.gwOpts...)
		gw, err := motion.NewGateway(gc.IP, gc.Key, opts...)
		if err != nil {
			return fmt.Errorf("gateway %s: %w", gc.IP, err)
		}
		b.mu.Lock()
		b.gateways = append(b.gateways, gw)
		b.mu.Unlock()

		if err := b.refreshGateway(gw); err != nil {
			logging.Warn("Gateway not answering, will retry on poll",
				zap.String("ip", gc.IP),
				zap.Error(err),
			)
			continue
		}
		logging.Info("Gateway connected",
			zap.String("ip", gc.IP),
			zap.String("mac", gw.MAC()),
			zap.Int("devices", len(gw.Devices())),
		)
		connected++
	}
	if connected == 0 {
		return fmt.Errorf("none of %d configured gateways answered", len(b.cfg.Gateways))
	}
	return nil
}

// refreshGateway bootstraps one gateway: roster with token, then current
// state, then change callbacks for anything not wired yet.
func (b *Bridge) refreshGateway(gw *motion.Gateway) error {
	if _, err := gw.QueryDeviceList(); err != nil {
		return err
	}
	if err := gw.Update(); err != nil {
		return err
	}
	b.wireCallbacks(gw)
	return nil
}

// wireCallbacks registers a change callback for the gateway and each of
// its devices, once per entity. Re-rosters keep existing device values, so
// already-wired callbacks stay valid; only newly paired devices need ids.
func (b *Bridge) wireCallbacks(gw *motion.Gateway) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mac := strings.ToLower(gw.MAC())
	if mac == "" {
		return
	}
	if _, ok := b.wired["gw:"+mac]; !ok {
		id := uuid.NewString()
		b.wired["gw:"+mac] = id
		gw.RegisterCallback(id, func() {
			b.emit(Event{
				ID:      uuid.NewString(),
				Time:    time.Now().UTC(),
				Gateway: gw.MAC(),
				State:   snapshotGateway(gw),
			})
		})
	}

	for devMAC, dev := range gw.Devices() {
		key := "dev:" + strings.ToLower(devMAC)
		if _, ok := b.wired[key]; ok {
			continue
		}
		id := uuid.NewString()
		b.wired[key] = id
		d := dev
		d.RegisterCallback(id, func() {
			b.emit(Event{
				ID:      uuid.NewString(),
				Time:    time.Now().UTC(),
				Gateway: gw.MAC(),
				Device:  d.MAC(),
				State:   snapshotDevice(gw, d),
			})
		})
	}
}

// unwireAll drops every callback this bridge registered.
func (b *Bridge) unwireAll() {
	for _, gw := range b.snapshotGateways() {
		gw.ClearCallbacks()
		for _, dev := range gw.Devices() {
			dev.ClearCallbacks()
		}
	}
	b.mu.Lock()
	b.wired = make(map[string]string)
	b.mu.Unlock()
}

// startListener brings up the multicast listener and subscribes every
// gateway. Multicast being unavailable degrades to poll-only operation, it
// does not stop the bridge.
func (b *Bridge) startListener() {
	l := motion.NewEventListener(b.cfg.Interface, logging.GetLogger())
	if err := l.StartListen(); err != nil {
		logging.Warn("Multicast listener failed to start; relying on polls", zap.Error(err))
		return
	}
	b.listener = l
	for _, gw := range b.snapshotGateways() {
		gw.AttachListener(l)
	}
}

func (b *Bridge) stopListener() {
	if b.listener == nil {
		return
	}
	for _, gw := range b.snapshotGateways() {
		gw.DetachListener()
	}
	b.listener.StopListen()
	b.listener = nil
}

// poll re-reads every gateway and schedules a radio refresh per device.
// Battery and signal drift have no pushes; the poll is how they stay
// current. Gateways that never answered get the full bootstrap again.
func (b *Bridge) poll() {
	for _, gw := range b.snapshotGateways() {
		if gw.MAC() == "" {
			if err := b.refreshGateway(gw); err != nil {
				logging.Warn("Gateway still not answering",
					zap.String("ip", gw.IP()),
					zap.Error(err),
				)
			}
			continue
		}
		if err := gw.Update(); err != nil {
			logging.Warn("Gateway poll failed",
				zap.String("ip", gw.IP()),
				zap.Error(err),
			)
			continue
		}
		b.wireCallbacks(gw)
		for _, dev := range gw.Devices() {
			if err := dev.UpdateTrigger(); err != nil {
				logging.Debug("Device refresh failed",
					zap.String("mac", dev.MAC()),
					zap.Error(err),
				)
			}
		}
	}
}

// emit queues one event for publication without ever blocking a merge
// path.
func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		logging.Warn("Event queue full, dropping event",
			zap.String("gateway", ev.Gateway),
			zap.String("device", ev.Device),
		)
	}
}

// pump moves queued events to the MQTT topic tree and the WebSocket hub.
func (b *Bridge) pump(stop <-chan struct{}) {
	for {
		select {
		case ev := <-b.events:
			b.publishEvent(ev)
		case <-stop:
			return
		}
	}
}

func (b *Bridge) publishEvent(ev Event) {
	b.publishState(ev)
	payload, err := marshalEvent(ev)
	if err != nil {
		logging.Error("Failed to marshal event", zap.Error(err))
		return
	}
	b.hub.broadcast(payload)
}

func (b *Bridge) snapshotGateways() []*motion.Gateway {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*motion.Gateway, len(b.gateways))
	copy(out, b.gateways)
	return out
}

// gatewayByMAC finds a connected gateway by MAC, case-insensitive.
func (b *Bridge) gatewayByMAC(mac string) (*motion.Gateway, bool) {
	for _, gw := range b.snapshotGateways() {
		if gw.MAC() != "" && strings.EqualFold(gw.MAC(), mac) {
			return gw, true
		}
	}
	return nil, false
}

// deviceByMAC finds a device and its owning gateway by device MAC,
// case-insensitive.
func (b *Bridge) deviceByMAC(mac string) (*motion.Gateway, motion.Device, bool) {
	for _, gw := range b.snapshotGateways() {
		for devMAC, dev := range gw.Devices() {
			if strings.EqualFold(devMAC, mac) {
				return gw, dev, true
			}
		}
	}
	return nil, nil, false
}

// advertise registers the HTTP surface in mDNS so frontends can find the
// bridge without configuration.
func (b *Bridge) advertise() error {
	port, err := b.cfg.httpPort()
	if err != nil {
		return err
	}
	srv, err := zeroconf.Register(mdnsInstance, mdnsService, mdnsDomain, port,
		[]string{"api=/api", "ws=/ws"}, nil)
	if err != nil {
		return err
	}
	b.mdns = srv
	logging.Info("Advertising bridge over mDNS",
		zap.String("service", mdnsService),
		zap.Int("port", port),
	)
	return nil
}
