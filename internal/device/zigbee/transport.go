// Package zigbee adapts zigbee2mqtt devices to the device contracts.
package zigbee

import (
	"context"

	"github.com/dokzlo13/daylightd/internal/mqtt"
)

// DefaultBaseTopic is zigbee2mqtt's default base topic.
const DefaultBaseTopic = "zigbee2mqtt"

// Transport is the part of the MQTT client the adapters use.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(ctx context.Context, topic string) (*mqtt.Subscription, error)
	QoS() byte
}
