package bluetooth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// TinyGoTransport drives a real adapter through tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows).
type TinyGoTransport struct {
	adapter *bluetooth.Adapter
	log     logrus.FieldLogger

	mu    sync.Mutex
	seen  map[string]bluetooth.Address // from discovery, needed to connect
	links map[string]*tinyLink
}

// NewTinyGoTransport creates a transport for the adapter id (e.g. "hci0").
// An empty id selects the default adapter.
func NewTinyGoTransport(id string, log logrus.FieldLogger) *TinyGoTransport {
	return &TinyGoTransport{
		adapter: newAdapter(id),
		log:     log,
		seen:    make(map[string]bluetooth.Address),
		links:   make(map[string]*tinyLink),
	}
}

// Enable powers the adapter and routes disconnect events to open links.
func (t *TinyGoTransport) Enable() error {
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: failed to enable BLE adapter: %v (try running with sudo or setcap cap_net_admin+ep)", ErrTransportUnavailable, err)
	}
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := normalizeAddress(device.Address.String())
		t.mu.Lock()
		l := t.links[key]
		delete(t.links, key)
		t.mu.Unlock()
		if l != nil {
			l.markDone()
		}
	})
	return nil
}

// Discover scans for window. Scan blocks until StopScan, so it runs in a
// goroutine and is stopped when the window or ctx ends.
func (t *TinyGoTransport) Discover(ctx context.Context, window time.Duration, fn func(Advertisement)) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var stopped atomic.Bool
	stopScan := func() {
		stopped.Store(true)
		if err := t.adapter.StopScan(); err != nil && !strings.Contains(err.Error(), "no scan in progress") {
			t.log.WithError(err).Warn("ble: failed to stop scan")
		}
	}

	finished := make(chan error, 1)
	go func() {
		finished <- t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if stopped.Load() {
				return
			}
			t.remember(result.Address)
			fn(scanResultToAdvertisement(result))
		})
	}()

	select {
	case err := <-finished:
		if err != nil && !stopped.Load() {
			return err
		}
		return nil
	case <-scanCtx.Done():
	}

	// StopScan can race a Scan that has not started yet; keep asking until
	// the scan goroutine returns.
	stopScan()
	retry := time.NewTicker(100 * time.Millisecond)
	defer retry.Stop()
	for {
		select {
		case <-finished:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		case <-retry.C:
			stopScan()
		}
	}
}

func (t *TinyGoTransport) remember(addr bluetooth.Address) {
	t.mu.Lock()
	t.seen[normalizeAddress(addr.String())] = addr
	t.mu.Unlock()
}

// Connect dials a peripheral seen during discovery. The stack has no
// context support, so the dial runs in a goroutine and a late success after
// ctx ended is disconnected again.
func (t *TinyGoTransport) Connect(ctx context.Context, address string) (Link, error) {
	key := normalizeAddress(address)
	t.mu.Lock()
	addr, ok := t.seen[key]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s has not been seen in a scan", ErrNotFound, address)
	}

	deviceCh := make(chan bluetooth.Device, 1)
	errorCh := make(chan error, 1)
	go func() {
		params := bluetooth.ConnectionParams{}
		if deadline, ok := ctx.Deadline(); ok {
			params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
		}
		device, err := t.adapter.Connect(addr, params)
		if err != nil {
			errorCh <- err
			return
		}
		if ctx.Err() == nil {
			deviceCh <- device
			return
		}
		if err := device.Disconnect(); err != nil {
			t.log.WithError(err).Warn("ble: failed to disconnect")
		}
	}()

	select {
	case device := <-deviceCh:
		l := &tinyLink{device: device, address: key, done: make(chan struct{})}
		t.mu.Lock()
		t.links[key] = l
		t.mu.Unlock()
		return l, nil
	case err := <-errorCh:
		return nil, fmt.Errorf("ble: failed to connect to device: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type tinyLink struct {
	device  bluetooth.Device
	address string
	done    chan struct{}
	once    sync.Once
}

func (l *tinyLink) Address() string       { return l.address }
func (l *tinyLink) Done() <-chan struct{} { return l.done }
func (l *tinyLink) markDone()             { l.once.Do(func() { close(l.done) }) }

func (l *tinyLink) Service(uuid string) (Service, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid uuid %q: %v", ErrServiceNotFound, uuid, err)
	}
	services, err := l.device.DiscoverServices([]bluetooth.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceNotFound, err)
	}
	if len(services) != 1 {
		return nil, ErrServiceNotFound
	}
	return &tinyService{service: services[0]}, nil
}

func (l *tinyLink) Disconnect() error {
	defer l.markDone()
	return l.device.Disconnect()
}

type tinyService struct {
	service bluetooth.DeviceService
}

func (s *tinyService) Characteristic(uuid string) (Characteristic, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid uuid %q: %v", ErrCharacteristicNotFound, uuid, err)
	}
	chars, err := s.service.DiscoverCharacteristics([]bluetooth.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCharacteristicNotFound, err)
	}
	if len(chars) == 0 {
		return nil, ErrCharacteristicNotFound
	}
	return &tinyCharacteristic{char: chars[0]}, nil
}

// Large enough for any ATT value.
const maxAttributeLen = 512

type tinyCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxAttributeLen)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyCharacteristic) Write(data []byte, confirmed bool) error {
	write := bluetooth.DeviceCharacteristic.WriteWithoutResponse
	if confirmed {
		write = confirmedWrite
	}
	n, err := write(c.char, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("ble: short write %d/%d bytes", n, len(data))
	}
	return nil
}

func (c *tinyCharacteristic) Subscribe(fn func([]byte)) error {
	return c.char.EnableNotifications(fn)
}

func scanResultToAdvertisement(result bluetooth.ScanResult) Advertisement {
	ad := Advertisement{
		Address: result.Address.String(),
		Name:    result.LocalName(),
		RSSI:    result.RSSI,
		Payload: result.Bytes(),
		SeenAt:  time.Now(),
	}
	if mfrs := result.ManufacturerData(); len(mfrs) > 0 {
		ad.CompanyID = mfrs[0].CompanyID
	}
	return ad
}
