package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/motionlan/internal/logging"
)

// mqttDisconnectQuiesce is how long Disconnect waits for in-flight
// publishes, in milliseconds as paho wants it.
const mqttDisconnectQuiesce = 250

// connectMQTT dials the broker and installs the subscriptions. The
// availability topic carries a retained last-will so consumers see
// "offline" even when the bridge dies without disconnecting.
func (b *Bridge) connectMQTT() error {
	cfg := b.cfg.MQTT

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetWill(b.availabilityTopic(), "offline", 0, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logging.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
		c.Publish(b.availabilityTopic(), 0, true, "online")
		// Subscribing here instead of once at startup re-installs the
		// subscription after every reconnect.
		topic := cfg.Prefix + "/+/+/set"
		if token := c.Subscribe(topic, 0, b.handleSetMessage); token.Wait() && token.Error() != nil {
			logging.Error("MQTT subscribe failed",
				zap.String("topic", topic),
				zap.Error(token.Error()),
			)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	b.mqtt = client
	return nil
}

// disconnectMQTT marks the bridge offline and closes the connection.
func (b *Bridge) disconnectMQTT() {
	if b.mqtt == nil {
		return
	}
	token := b.mqtt.Publish(b.availabilityTopic(), 0, true, "offline")
	token.Wait()
	b.mqtt.Disconnect(mqttDisconnectQuiesce)
	b.mqtt = nil
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.MQTT.Prefix + "/bridge/availability"
}

// publishState mirrors one event onto its retained state topic. Gateway
// events publish under <prefix>/<gateway>/state, device events under
// <prefix>/<gateway>/<device>/state.
func (b *Bridge) publishState(ev Event) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(ev.State)
	if err != nil {
		logging.Error("Failed to marshal state payload", zap.Error(err))
		return
	}
	topic := stateTopic(b.cfg.MQTT.Prefix, ev.Gateway, ev.Device)
	token := b.mqtt.Publish(topic, 0, true, payload)
	if token.Wait() && token.Error() != nil {
		logging.Warn("MQTT publish failed",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
	}
}

func stateTopic(prefix, gatewayMAC, deviceMAC string) string {
	if deviceMAC == "" {
		return fmt.Sprintf("%s/%s/state", prefix, strings.ToLower(gatewayMAC))
	}
	return fmt.Sprintf("%s/%s/%s/state", prefix, strings.ToLower(gatewayMAC), strings.ToLower(deviceMAC))
}

// handleSetMessage runs one command published to a set topic. Bad topics
// and bad payloads are logged and dropped; MQTT has no reply channel, the
// resulting state change (or its absence) is the answer.
func (b *Bridge) handleSetMessage(_ mqtt.Client, msg mqtt.Message) {
	gwMAC, devMAC, ok := parseSetTopic(b.cfg.MQTT.Prefix, msg.Topic())
	if !ok {
		logging.Warn("Ignoring message on unexpected topic", zap.String("topic", msg.Topic()))
		return
	}

	var req CommandRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logging.Warn("Ignoring malformed command payload",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
		return
	}

	gw, _, ok := b.deviceByMAC(devMAC)
	if !ok {
		logging.Warn("Command for unknown device",
			zap.String("device", devMAC),
			zap.String("topic", msg.Topic()),
		)
		return
	}
	if !strings.EqualFold(gw.MAC(), gwMAC) {
		logging.Warn("Command topic names the wrong gateway for its device",
			zap.String("device", devMAC),
			zap.String("topic_gateway", gwMAC),
			zap.String("actual_gateway", gw.MAC()),
		)
		return
	}

	if _, err := b.Dispatch(devMAC, req); err != nil {
		logging.Warn("MQTT command failed",
			zap.String("device", devMAC),
			zap.String("command", req.Command),
			zap.Error(err),
		)
	}
}

// parseSetTopic splits <prefix>/<gateway>/<device>/set into its MACs.
func parseSetTopic(prefix, topic string) (gwMAC, devMAC string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != prefix || parts[3] != "set" {
		return "", "", false
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
