package sink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"ble-bridge.klederson.com/internal/config"
)

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes to a broker, e.g. AWS IoT Core with X.509 client certs.
type MQTT struct {
	client  publisher
	timeout time.Duration
	log     logrus.FieldLogger
}

// DialMQTT connects to the broker described by cfg.
func DialMQTT(cfg config.MQTTConfig, log logrus.FieldLogger) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)

	if cfg.CertFile != "" || cfg.CAFile != "" {
		tlsCfg, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	log.WithField("broker", cfg.Broker).Info("mqtt connected")

	return newMQTT(client, cfg.ConnectTimeout, log), nil
}

func newMQTT(client publisher, timeout time.Duration, log logrus.FieldLogger) *MQTT {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTT{client: client, timeout: timeout, log: log}
}

func tlsConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mqtt: no certificates in %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Publish waits for the broker to accept the message (PUBACK for qos 1),
// bounded by ctx and the configured timeout.
func (m *MQTT) Publish(ctx context.Context, topic, payload string, qos byte) error {
	token := m.client.Publish(topic, qos, false, payload)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	m.log.WithFields(logrus.Fields{"topic": topic, "qos": qos}).Debug("mqtt publish")
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
