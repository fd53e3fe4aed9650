package exporter

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/muurk/motionlan/internal/logging"
	"github.com/muurk/motionlan/motion"
)

// Collector exports the state of a set of gateways and their blinds as
// Prometheus metrics. Each scrape refreshes gateway state over the radio
// and re-reads every blind from the gateway cache, bounded by the scrape
// timeout; blinds not refreshed in time are reported from their last
// known state.
type Collector struct {
	mu            sync.Mutex
	gateways      []*motion.Gateway
	scrapeTimeout time.Duration
	collectErrors float64

	scrapeDurationDesc *prometheus.Desc
	collectErrorsDesc  *prometheus.Desc

	gatewayUpDesc      *prometheus.Desc
	gatewayRSSIDesc    *prometheus.Desc
	gatewayDevicesDesc *prometheus.Desc

	positionDesc       *prometheus.Desc
	angleDesc          *prometheus.Desc
	batteryPctDesc     *prometheus.Desc
	batteryVoltsDesc   *prometheus.Desc
	blindRSSIDesc      *prometheus.Desc
	blindAvailableDesc *prometheus.Desc
}

// NewCollector builds a collector over the given gateways. The caller
// keeps ownership of the gateways; the collector only reads and refreshes
// them.
func NewCollector(gateways []*motion.Gateway, scrapeTimeout time.Duration) *Collector {
	gatewayLabels := []string{"gateway", "ip"}
	motorLabels := []string{"gateway", "device", "motor"}
	deviceLabels := []string{"gateway", "device"}

	return &Collector{
		gateways:      gateways,
		scrapeTimeout: scrapeTimeout,

		scrapeDurationDesc: prometheus.NewDesc(
			"motionlan_scrape_duration_seconds",
			"Time spent refreshing gateway and blind state during the scrape",
			nil, nil,
		),
		collectErrorsDesc: prometheus.NewDesc(
			"motionlan_collect_errors_total",
			"Total number of gateway or blind refresh failures",
			nil, nil,
		),
		gatewayUpDesc: prometheus.NewDesc(
			"motionlan_gateway_up",
			"Whether the gateway answered its last status query",
			gatewayLabels, nil,
		),
		gatewayRSSIDesc: prometheus.NewDesc(
			"motionlan_gateway_rssi_dbm",
			"Wi-Fi signal strength reported by the gateway",
			gatewayLabels, nil,
		),
		gatewayDevicesDesc: prometheus.NewDesc(
			"motionlan_gateway_devices",
			"Number of blinds paired with the gateway",
			gatewayLabels, nil,
		),
		positionDesc: prometheus.NewDesc(
			"motionlan_blind_position",
			"Blind position in percent, 100 fully closed",
			motorLabels, nil,
		),
		angleDesc: prometheus.NewDesc(
			"motionlan_blind_angle",
			"Slat angle in degrees",
			motorLabels, nil,
		),
		batteryPctDesc: prometheus.NewDesc(
			"motionlan_blind_battery_percent",
			"Estimated battery charge in percent",
			motorLabels, nil,
		),
		batteryVoltsDesc: prometheus.NewDesc(
			"motionlan_blind_battery_volts",
			"Battery voltage reported by the motor",
			motorLabels, nil,
		),
		blindRSSIDesc: prometheus.NewDesc(
			"motionlan_blind_rssi_dbm",
			"Radio signal strength between blind and gateway",
			deviceLabels, nil,
		),
		blindAvailableDesc: prometheus.NewDesc(
			"motionlan_blind_available",
			"Whether the blind is reachable through its gateway",
			deviceLabels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.scrapeDurationDesc
	ch <- c.collectErrorsDesc
	ch <- c.gatewayUpDesc
	ch <- c.gatewayRSSIDesc
	ch <- c.gatewayDevicesDesc
	ch <- c.positionDesc
	ch <- c.angleDesc
	ch <- c.batteryPctDesc
	ch <- c.batteryVoltsDesc
	ch <- c.blindRSSIDesc
	ch <- c.blindAvailableDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		ch <- prometheus.MustNewConstMetric(c.scrapeDurationDesc, prometheus.GaugeValue, v)
	}))
	defer timer.ObserveDuration()

	deadline := time.Now().Add(c.scrapeTimeout)
	for _, gw := range c.gateways {
		c.refreshGateway(gw, deadline)
		c.collectGateway(ch, gw)
	}

	ch <- prometheus.MustNewConstMetric(c.collectErrorsDesc, prometheus.CounterValue, c.collectErrors)
}

// refreshGateway brings the gateway and its blinds up to date. A gateway
// that has never answered is bootstrapped first; failures leave the
// cached state in place and are reported through the error counter.
func (c *Collector) refreshGateway(gw *motion.Gateway, deadline time.Time) {
	log := logging.GetLogger()

	if time.Now().After(deadline) {
		return
	}
	if gw.MAC() == "" {
		if _, err := gw.QueryDeviceList(); err != nil {
			log.Debug("Gateway bootstrap failed", zap.String("ip", gw.IP()), zap.Error(err))
			c.collectErrors++
			return
		}
	}
	if err := gw.Update(); err != nil {
		log.Debug("Gateway refresh failed", zap.String("ip", gw.IP()), zap.Error(err))
		c.collectErrors++
		return
	}
	for _, dev := range gw.Devices() {
		if time.Now().After(deadline) {
			return
		}
		if err := dev.UpdateFromCache(); err != nil {
			log.Debug("Blind refresh failed",
				zap.String("mac", dev.MAC()),
				zap.Error(err))
			c.collectErrors++
		}
	}
}

func (c *Collector) collectGateway(ch chan<- prometheus.Metric, gw *motion.Gateway) {
	mac := strings.ToLower(gw.MAC())
	ip := gw.IP()

	up := 0.0
	if gw.Available() {
		up = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.gatewayUpDesc, prometheus.GaugeValue, up, mac, ip)
	if rssi, ok := gw.RSSI().Value(); ok {
		ch <- prometheus.MustNewConstMetric(c.gatewayRSSIDesc, prometheus.GaugeValue, float64(rssi), mac, ip)
	}
	ch <- prometheus.MustNewConstMetric(c.gatewayDevicesDesc, prometheus.GaugeValue, float64(gw.NumberOfDevices()), mac, ip)

	for _, dev := range gw.Devices() {
		c.collectDevice(ch, mac, dev)
	}
}

func (c *Collector) collectDevice(ch chan<- prometheus.Metric, gateway string, dev motion.Device) {
	mac := strings.ToLower(dev.MAC())

	avail := 0.0
	if dev.Available() {
		avail = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.blindAvailableDesc, prometheus.GaugeValue, avail, gateway, mac)

	switch d := dev.(type) {
	case *motion.Blind:
		if rssi, ok := d.RSSI().Value(); ok {
			ch <- prometheus.MustNewConstMetric(c.blindRSSIDesc, prometheus.GaugeValue, float64(rssi), gateway, mac)
		}
		c.collectMotor(ch, gateway, mac, "",
			d.Position(), d.Angle(), d.BatteryLevel(), d.BatteryVoltage())
	case *motion.TopDownBottomUp:
		if rssi, ok := d.RSSI().Value(); ok {
			ch <- prometheus.MustNewConstMetric(c.blindRSSIDesc, prometheus.GaugeValue, float64(rssi), gateway, mac)
		}
		for _, m := range []struct {
			motor motion.Motor
			label string
		}{
			{motion.MotorTop, "top"},
			{motion.MotorBottom, "bottom"},
		} {
			c.collectMotor(ch, gateway, mac, m.label,
				d.Position(m.motor), d.Angle(m.motor), d.BatteryLevel(m.motor), d.BatteryVoltage(m.motor))
		}
	}
}

// collectMotor emits the per-motor gauges. Unknown values produce no
// sample rather than a placeholder.
func (c *Collector) collectMotor(ch chan<- prometheus.Metric, gateway, mac, motor string,
	position, angle motion.Optional[int], pct, volts motion.Optional[float64]) {

	if v, ok := position.Value(); ok {
		ch <- prometheus.MustNewConstMetric(c.positionDesc, prometheus.GaugeValue, float64(v), gateway, mac, motor)
	}
	if v, ok := angle.Value(); ok {
		ch <- prometheus.MustNewConstMetric(c.angleDesc, prometheus.GaugeValue, float64(v), gateway, mac, motor)
	}
	if v, ok := pct.Value(); ok {
		ch <- prometheus.MustNewConstMetric(c.batteryPctDesc, prometheus.GaugeValue, v, gateway, mac, motor)
	}
	if v, ok := volts.Value(); ok {
		ch <- prometheus.MustNewConstMetric(c.batteryVoltsDesc, prometheus.GaugeValue, v, gateway, mac, motor)
	}
}
