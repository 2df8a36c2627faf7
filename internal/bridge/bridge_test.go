package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ble-bridge.klederson.com/internal/bluetooth"
	"ble-bridge.klederson.com/internal/calibration"
	"ble-bridge.klederson.com/internal/config"
	"ble-bridge.klederson.com/internal/logging"
)

const (
	targetName    = "6733contactTracing"
	targetAddress = "AA:BB:CC:DD:EE:FF"
)

var testService = bluetooth.ServiceDescriptor{
	ServiceUUID: config.DefaultServiceUUID,
	WriteUUID:   config.DefaultWriteUUID,
	ReadUUID:    config.DefaultReadUUID,
}

type published struct {
	topic   string
	payload string
	qos     byte
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (r *recordingSink) Publish(_ context.Context, topic, payload string, qos byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{topic, payload, qos})
	return r.err
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) Messages() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.msgs...)
}

func (r *recordingSink) count(payload string) int {
	n := 0
	for _, m := range r.Messages() {
		if m.payload == payload {
			n++
		}
	}
	return n
}

func newTarget() *bluetooth.MockPeripheral {
	return &bluetooth.MockPeripheral{
		Address:  targetAddress,
		Name:     targetName,
		BaseRSSI: -70,
		Service:  testService,
		Greeting: []byte("hello\n"),
		Echo:     true,
	}
}

func testConfig() Config {
	return Config{
		TargetName:  targetName,
		Service:     testService,
		ScanWindow:  time.Second,
		MaxPasses:   3,
		RetryDelay:  time.Millisecond,
		TopicPrefix: "test",
		QoS:         1,
		Confirmed:   true,
		QueueSize:   8,
		DrainWindow: 50 * time.Millisecond,
	}
}

type runResult struct {
	err error
}

func runInteractive(b *Bridge, src LineSource) <-chan runResult {
	out := make(chan runResult, 1)
	go func() {
		out <- runResult{b.RunInteractive(context.Background(), src)}
	}()
	return out
}

func waitResult(t *testing.T, ch <-chan runResult) error {
	t.Helper()
	select {
	case r := <-ch:
		return r.err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not return")
		return nil
	}
}

func TestInteractiveGreetingThenEcho(t *testing.T) {
	target := newTarget()
	out := &recordingSink{}
	b := New(testConfig(), bluetooth.NewMockTransport(target), out, logging.Discard())

	lines := make(chan []byte)
	done := runInteractive(b, ChanSource(lines))

	require.Eventually(t, func() bool { return out.count("hello\n") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, target.Written(), "nothing is written before input arrives")

	lines <- []byte("r\n")
	require.Eventually(t, func() bool { return len(out.Messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	close(lines)

	require.NoError(t, waitResult(t, done))
	assert.Equal(t, []published{
		{"test/AABBCCDDEEFF", "hello\n", 1},
		{"test/AABBCCDDEEFF", "r\n", 1},
	}, out.Messages())
	assert.Equal(t, [][]byte{[]byte("r\n")}, target.Written())
	assert.False(t, target.Connected(), "session closed on return")
	assert.Nil(t, b.Session())
}

func TestInteractiveUsesConfiguredDeviceID(t *testing.T) {
	out := &recordingSink{}
	cfg := testConfig()
	cfg.DeviceID = "6733FFA"
	b := New(cfg, bluetooth.NewMockTransport(newTarget()), out, logging.Discard())

	lines := make(chan []byte)
	done := runInteractive(b, ChanSource(lines))
	require.Eventually(t, func() bool { return len(out.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	close(lines)

	require.NoError(t, waitResult(t, done))
	assert.Equal(t, "test/6733FFA", out.Messages()[0].topic)
}

func TestInteractiveLinkDrop(t *testing.T) {
	target := newTarget()
	out := &recordingSink{}
	b := New(testConfig(), bluetooth.NewMockTransport(target), out, logging.Discard())

	done := runInteractive(b, ChanSource(make(chan []byte)))
	require.Eventually(t, func() bool { return out.count("hello\n") == 1 }, 2*time.Second, 5*time.Millisecond)

	target.Drop()
	assert.ErrorIs(t, waitResult(t, done), bluetooth.ErrLinkDropped)
}

func TestInteractiveReconnects(t *testing.T) {
	target := newTarget()
	out := &recordingSink{}
	cfg := testConfig()
	cfg.Reconnect = true
	b := New(cfg, bluetooth.NewMockTransport(target), out, logging.Discard())

	lines := make(chan []byte)
	done := runInteractive(b, ChanSource(lines))
	require.Eventually(t, func() bool { return out.count("hello\n") == 1 }, 2*time.Second, 5*time.Millisecond)

	target.Drop()
	require.Eventually(t, func() bool { return out.count("hello\n") == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, target.Connected())

	close(lines)
	require.NoError(t, waitResult(t, done))
}

func TestInteractivePublishFailureIsLogged(t *testing.T) {
	target := newTarget()
	out := &recordingSink{err: errors.New("broker down")}
	b := New(testConfig(), bluetooth.NewMockTransport(target), out, logging.Discard())

	lines := make(chan []byte)
	done := runInteractive(b, ChanSource(lines))
	require.Eventually(t, func() bool { return out.count("hello\n") == 1 }, 2*time.Second, 5*time.Millisecond)

	lines <- []byte("g\n")
	require.Eventually(t, func() bool { return out.count("g\n") == 1 }, 2*time.Second, 5*time.Millisecond)
	close(lines)

	require.NoError(t, waitResult(t, done))
}

func TestInteractiveFailOnPublishError(t *testing.T) {
	out := &recordingSink{err: errors.New("broker down")}
	cfg := testConfig()
	cfg.FailOnPublishError = true
	b := New(cfg, bluetooth.NewMockTransport(newTarget()), out, logging.Discard())

	err := waitResult(t, runInteractive(b, ChanSource(make(chan []byte))))
	assert.ErrorContains(t, err, "broker down")
	assert.ErrorContains(t, err, "test/AABBCCDDEEFF")
}

func TestInteractiveRelaysInboundAfterInputEnds(t *testing.T) {
	target := newTarget()
	out := &recordingSink{}
	b := New(testConfig(), bluetooth.NewMockTransport(target), out, logging.Discard())

	require.NoError(t, b.RunInteractive(context.Background(), SliceSource("r\n")))
	assert.Equal(t, 1, out.count("hello\n"), "greeting published exactly once")
	assert.Equal(t, 1, out.count("r\n"), "echo of the last write published")
	assert.Equal(t, [][]byte{[]byte("r\n")}, target.Written())
	assert.False(t, target.Connected())
}

func TestInteractiveEmptyInputStillRelaysGreeting(t *testing.T) {
	out := &recordingSink{}
	b := New(testConfig(), bluetooth.NewMockTransport(newTarget()), out, logging.Discard())

	lines := make(chan []byte)
	close(lines)
	require.NoError(t, b.RunInteractive(context.Background(), ChanSource(lines)))
	assert.Equal(t, 1, out.count("hello\n"))
}

func TestInteractivePublishesQueuedLinesOnDrop(t *testing.T) {
	target := newTarget()
	out := &recordingSink{}
	b := New(testConfig(), bluetooth.NewMockTransport(target), out, logging.Discard())

	done := runInteractive(b, ChanSource(make(chan []byte)))
	require.Eventually(t, func() bool { return out.count("hello\n") == 1 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, target.Notify([]byte("t\n")))
	require.True(t, target.Notify([]byte("p\n")))
	target.Drop()

	assert.ErrorIs(t, waitResult(t, done), bluetooth.ErrLinkDropped)
	assert.Equal(t, 1, out.count("t\n"))
	assert.Equal(t, 1, out.count("p\n"))
}

func TestInteractiveTargetMissing(t *testing.T) {
	b := New(testConfig(), bluetooth.NewMockTransport(), &recordingSink{}, logging.Discard())

	err := b.RunInteractive(context.Background(), SliceSource("r\n"))
	assert.ErrorIs(t, err, bluetooth.ErrNotFound)
}

func TestInteractiveCancel(t *testing.T) {
	out := &recordingSink{}
	b := New(testConfig(), bluetooth.NewMockTransport(newTarget()), out, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunInteractive(ctx, ChanSource(make(chan []byte))) }()
	require.Eventually(t, func() bool { return len(out.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBenchmarkWritesPayloadNTimes(t *testing.T) {
	target := newTarget()
	target.Echo = false
	b := New(testConfig(), bluetooth.NewMockTransport(target), nil, logging.Discard())

	res, err := b.RunBenchmark(context.Background(), []byte("A"), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Writes)
	assert.True(t, res.Elapsed > 0)
	assert.Equal(t, res.Elapsed/10, res.PerWrite())

	written := target.Written()
	require.Len(t, written, 10)
	for _, w := range written {
		assert.Equal(t, []byte("A"), w)
	}
	assert.False(t, target.Connected())
}

func TestModesAreExclusive(t *testing.T) {
	b := New(testConfig(), bluetooth.NewMockTransport(newTarget()), nil, logging.Discard())

	_, err := b.RunBenchmark(context.Background(), []byte("A"), 1)
	require.NoError(t, err)

	assert.ErrorIs(t, b.RunPoll(context.Background()), ErrModeStarted)
	_, err = b.RunBenchmark(context.Background(), []byte("A"), 1)
	assert.ErrorIs(t, err, ErrModeStarted)
}

func TestEnableFailureIsFatal(t *testing.T) {
	transport := bluetooth.NewMockTransport(newTarget())
	transport.EnableErr = errors.New("adapter powered off")
	b := New(testConfig(), transport, nil, logging.Discard())

	err := b.RunDistance(context.Background(), calibration.Model{Slope: -0.5, Intercept: -50}, 1, func(Reading) {})
	assert.ErrorIs(t, err, bluetooth.ErrTransportUnavailable)
}

func TestScannerLogsCarryMode(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	b := New(testConfig(), bluetooth.NewMockTransport(newTarget()), nil, logger)

	err := b.RunDistance(context.Background(), calibration.Model{Slope: -0.5, Intercept: -50}, 1, func(Reading) {})
	require.NoError(t, err)

	var passes int
	for _, e := range hook.AllEntries() {
		if e.Message != "discovery pass done" {
			continue
		}
		passes++
		assert.Equal(t, "distance", e.Data["mode"])
		assert.Equal(t, targetName, e.Data["target"])
	}
	assert.Equal(t, 1, passes)
}

func TestPollPublishesReads(t *testing.T) {
	target := newTarget()
	target.QueueRead([]byte("a\n"), []byte("b\n"))
	out := &recordingSink{}
	cfg := testConfig()
	cfg.PollRate = 200
	b := New(cfg, bluetooth.NewMockTransport(target), out, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunPoll(ctx) }()

	require.Eventually(t, func() bool { return len(out.Messages()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
	msgs := out.Messages()
	assert.Equal(t, "a\n", msgs[0].payload)
	assert.Equal(t, "b\n", msgs[1].payload)
	assert.Empty(t, target.Written())
}

func TestDistanceReportsTargetOnly(t *testing.T) {
	bystander := &bluetooth.MockPeripheral{Address: "11:22:33:44:55:66", Name: "Pixel 9 Pro", BaseRSSI: -40}
	b := New(testConfig(), bluetooth.NewMockTransport(newTarget(), bystander), nil, logging.Discard())

	var got []Reading
	err := b.RunDistance(context.Background(), calibration.Model{Slope: -0.5, Intercept: -50}, 3, func(r Reading) {
		got = append(got, r)
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, r := range got {
		assert.Equal(t, targetAddress, r.Address)
		assert.Equal(t, int16(-70), r.RSSI)
		assert.InDelta(t, 40.0, r.Distance, 1e-9)
		assert.False(t, r.Time.IsZero())
	}
}

func TestDistanceResumesAfterDiscoveryError(t *testing.T) {
	transport := bluetooth.NewMockTransport(newTarget())
	transport.DiscoverErr = errors.New("scan busy")
	b := New(testConfig(), transport, nil, logging.Discard())

	var got []Reading
	err := b.RunDistance(context.Background(), calibration.Model{Slope: -0.5, Intercept: -50}, 2, func(r Reading) {
		got = append(got, r)
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDistanceRejectsZeroSlope(t *testing.T) {
	b := New(testConfig(), bluetooth.NewMockTransport(newTarget()), nil, logging.Discard())

	err := b.RunDistance(context.Background(), calibration.Model{Intercept: -50}, 1, func(Reading) {})
	assert.ErrorIs(t, err, calibration.ErrDivisionByZero)
}

func TestCalibrationFitsWalk(t *testing.T) {
	target := newTarget()
	b := New(testConfig(), bluetooth.NewMockTransport(target), nil, logging.Discard())

	var prompted []float64
	prompt := func(_ context.Context, d float64) error {
		prompted = append(prompted, d)
		target.BaseRSSI = -50 - 0.5*d
		return nil
	}

	model, samples, err := b.RunCalibration(context.Background(), []float64{0, 10, 20}, 2, 0, prompt)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 10, 20}, prompted)
	require.Len(t, samples, 3)
	assert.InDelta(t, -0.5, model.Slope, 1e-9)
	assert.InDelta(t, -50, model.Intercept, 1e-9)
}

func TestDescribeCommand(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"r\n", "RED LED"},
		{"g\r\n", "Green LED"},
		{"b", "blue LED"},
		{"p\n", "humidity"},
		{"t\n", "Temperature"},
		{"i\n", "Accelerometer"},
		{"x\n", "Unknown input"},
		{"", "Unknown input"},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.line), func(t *testing.T) {
			assert.Equal(t, tt.want, DescribeCommand([]byte(tt.line)))
		})
	}
}

func TestReaderSourceKeepsTerminators(t *testing.T) {
	src := NewReaderSource(strings.NewReader("r\ng\nlast"))

	var got []string
	for line := range src.Lines(context.Background()) {
		got = append(got, string(line))
	}
	assert.Equal(t, []string{"r\n", "g\n", "last"}, got)
	assert.NoError(t, src.Err())
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Defaults()
	cfg.MQTT.ClientID = "6733FFA"

	bc := ConfigFrom(cfg)
	assert.Equal(t, config.DefaultTargetName, bc.TargetName)
	assert.Equal(t, testService, bc.Service)
	assert.Equal(t, "6733FFA", bc.DeviceID)
	assert.Equal(t, "test", bc.TopicPrefix)
	assert.Equal(t, byte(1), bc.QoS)
	assert.True(t, bc.Confirmed)
	assert.Equal(t, config.DrainWindow, bc.DrainWindow)

	cfg.Bridge.DeviceID = "lab-bench"
	assert.Equal(t, "lab-bench", ConfigFrom(cfg).DeviceID)
}
