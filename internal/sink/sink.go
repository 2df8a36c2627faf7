// Package sink delivers lines received from the peripheral to the outside
// world: an MQTT broker in production, the console otherwise.
package sink

import (
	"context"
	"strings"
)

// Sink publishes one payload to a topic.
type Sink interface {
	Publish(ctx context.Context, topic, payload string, qos byte) error
	Close() error
}

// Topic builds the publish topic for a device, e.g. "test/6733FFA".
func Topic(prefix, deviceID string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return deviceID
	}
	return prefix + "/" + deviceID
}
