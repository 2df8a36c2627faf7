// Package bridge ties the scanner, the session and the sink together and
// runs one of the operating modes: interactive duplex, round-trip timing,
// idle-read polling, distance reporting or calibration.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ble-bridge.klederson.com/internal/bluetooth"
	"ble-bridge.klederson.com/internal/config"
	"ble-bridge.klederson.com/internal/sink"
)

// ErrModeStarted is returned when a second mode is started on one Bridge.
var ErrModeStarted = errors.New("bridge: a mode already ran on this bridge")

// Config is everything a Bridge needs to find and talk to its peripheral.
type Config struct {
	TargetName    string
	TargetAddress string // wins over TargetName when set
	Service       bluetooth.ServiceDescriptor

	ScanWindow time.Duration
	MaxPasses  int           // 0 = search until found
	RetryDelay time.Duration // pause after a failed discovery pass in distance mode

	TopicPrefix        string
	DeviceID           string // topic suffix, "" = peripheral address without colons
	QoS                byte
	Confirmed          bool
	FailOnPublishError bool
	Reconnect          bool
	QueueSize          int
	DrainWindow        time.Duration // inbound quiet period before returning at end of input
	PollRate           float64
}

// ConfigFrom maps the file/env configuration onto a bridge Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		TargetName:    cfg.Target.Name,
		TargetAddress: cfg.Target.Address,
		Service: bluetooth.ServiceDescriptor{
			ServiceUUID: cfg.Service.UUID,
			WriteUUID:   cfg.Service.WriteUUID,
			ReadUUID:    cfg.Service.ReadUUID,
		},
		ScanWindow:         cfg.Scan.Window,
		MaxPasses:          cfg.Scan.MaxPasses,
		RetryDelay:         time.Second,
		TopicPrefix:        cfg.MQTT.TopicPrefix,
		DeviceID:           cfg.DeviceID(""), // "" defers to the peripheral address
		QoS:                byte(cfg.MQTT.QoS),
		Confirmed:          cfg.Bridge.Confirmed,
		FailOnPublishError: cfg.Bridge.FailOnPublishError,
		Reconnect:          cfg.Bridge.Reconnect,
		QueueSize:          cfg.Bridge.InboundQueue,
		DrainWindow:        cfg.Bridge.DrainWindow,
		PollRate:           cfg.Bridge.PollRate,
	}
}

// Bridge runs exactly one mode over its lifetime.
type Bridge struct {
	cfg       Config
	transport bluetooth.Transport
	scanner   *bluetooth.Scanner
	sink      sink.Sink
	log       *logrus.Entry

	mu      sync.Mutex
	mode    string
	session *bluetooth.Session
}

// New creates a bridge. s may be nil for modes that publish nothing.
func New(cfg Config, t bluetooth.Transport, s sink.Sink, log logrus.FieldLogger) *Bridge {
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = config.ScanWindow
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.InboundQueue
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DrainWindow <= 0 {
		cfg.DrainWindow = config.DrainWindow
	}
	return &Bridge{
		cfg:       cfg,
		transport: t,
		sink:      s,
		log:       log.WithField("target", targetLabel(cfg)),
	}
}

func targetLabel(cfg Config) string {
	if cfg.TargetAddress != "" {
		return cfg.TargetAddress
	}
	return cfg.TargetName
}

// start claims the bridge for mode, builds the scanner on the mode's logger
// and powers up the transport.
func (b *Bridge) start(mode string) error {
	b.mu.Lock()
	if b.mode != "" {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModeStarted, b.mode)
	}
	b.mode = mode
	b.mu.Unlock()

	b.log = b.log.WithField("mode", mode)
	b.scanner = bluetooth.NewScanner(b.transport, b.cfg.ScanWindow, b.log)
	if err := b.transport.Enable(); err != nil {
		return err
	}
	return nil
}

// locate searches for the configured target.
func (b *Bridge) locate(ctx context.Context) (bluetooth.Advertisement, error) {
	if b.cfg.TargetAddress != "" {
		return b.scanner.FindByAddress(ctx, b.cfg.TargetAddress, b.cfg.MaxPasses)
	}
	return b.scanner.FindByName(ctx, b.cfg.TargetName, b.cfg.MaxPasses)
}

// connect locates the target and opens a fresh session on it.
func (b *Bridge) connect(ctx context.Context) (*bluetooth.Session, bluetooth.Advertisement, error) {
	ad, err := b.locate(ctx)
	if err != nil {
		return nil, ad, err
	}
	b.log.WithFields(logrus.Fields{"address": ad.Address, "rssi": ad.RSSI}).Info("found peripheral")

	sess := bluetooth.NewSession(b.transport, b.cfg.Service, b.log)
	if err := sess.Open(ctx, ad.Address); err != nil {
		return nil, ad, err
	}

	b.mu.Lock()
	b.session = sess
	b.mu.Unlock()
	return sess, ad, nil
}

func (b *Bridge) release(sess *bluetooth.Session) {
	if err := sess.Close(); err != nil {
		b.log.WithError(err).Warn("close session")
	}
	b.mu.Lock()
	if b.session == sess {
		b.session = nil
	}
	b.mu.Unlock()
}

// Session returns the live session, nil when none is open.
func (b *Bridge) Session() *bluetooth.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Bridge) topic(address string) string {
	id := b.cfg.DeviceID
	if id == "" {
		id = strings.ToUpper(strings.ReplaceAll(address, ":", ""))
	}
	return sink.Topic(b.cfg.TopicPrefix, id)
}

// forward decodes one inbound line and publishes it. Publish failures are
// logged and swallowed unless FailOnPublishError is set.
func (b *Bridge) forward(ctx context.Context, topic string, data []byte) error {
	text := decodeLine(data)
	b.log.WithFields(logrus.Fields{
		"line":    strings.TrimRight(text, "\r\n"),
		"command": DescribeCommand(data),
	}).Info("received")

	if b.sink == nil {
		return nil
	}
	if err := b.sink.Publish(ctx, topic, text, b.cfg.QoS); err != nil {
		if b.cfg.FailOnPublishError {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		b.log.WithError(err).WithField("topic", topic).Warn("publish failed")
		return nil
	}
	b.log.WithField("topic", topic).Debug("published")
	return nil
}

func decodeLine(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}
