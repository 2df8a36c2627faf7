package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var mockBystanderNames = []string{
	"iPhone 15 Pro",
	"Galaxy S24 Ultra",
	"Pixel 9 Pro",
	"AirPods Pro",
	"MacBook Air",
	"Apple Watch",
	"Fitbit Charge 6",
	"Tile Tracker",
	"Arduino Nano 33 BLE",
	"ESP32-C3",
	"",
	"",
}

// errMockLinkClosed is what a pending mock write returns once the link goes away.
var errMockLinkClosed = errors.New("mock: link closed")

// MockPeripheral is a simulated device. Exported fields are read at
// discovery and connect time; set them before use.
type MockPeripheral struct {
	Address   string
	Name      string
	BaseRSSI  float64
	Amplitude float64 // sinusoidal RSSI swing in dBm
	Jitter    float64 // uniform noise in dBm, 0 = deterministic
	CompanyID uint16
	Hidden    bool // not advertising

	Service ServiceDescriptor

	Greeting   []byte // notified once right after subscription
	Echo       bool   // every written frame is notified back
	HoldWrites bool   // confirmed writes are never acknowledged

	phase float64

	mu      sync.Mutex
	written [][]byte
	reads   [][]byte
	notify  func([]byte)
	link    *mockLink
}

// Written returns a copy of every frame written so far.
func (p *MockPeripheral) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

// QueueRead appends values returned by successive reads of the read characteristic.
func (p *MockPeripheral) QueueRead(values ...[]byte) {
	p.mu.Lock()
	p.reads = append(p.reads, values...)
	p.mu.Unlock()
}

// Notify pushes a notification to the subscribed handler, if any.
func (p *MockPeripheral) Notify(data []byte) bool {
	p.mu.Lock()
	fn := p.notify
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(append([]byte(nil), data...))
	return true
}

// Drop simulates the peripheral going out of range.
func (p *MockPeripheral) Drop() {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l != nil {
		l.close()
	}
}

// Connected reports whether a link to the peripheral is open.
func (p *MockPeripheral) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link != nil && !p.link.closed()
}

func (p *MockPeripheral) rssi(t float64) int16 {
	v := p.BaseRSSI + p.Amplitude*math.Sin(t*0.5+p.phase)
	if p.Jitter > 0 {
		v += (rand.Float64() - 0.5) * p.Jitter
	}
	return int16(math.Round(v))
}

// MockTransport simulates the radio. Used by demo mode and tests.
type MockTransport struct {
	EnableErr    error
	DiscoverErr  error
	PassDuration time.Duration // real time a pass takes, capped by the window
	Repeats      int           // advertisements per peripheral per pass

	mu          sync.Mutex
	peripherals []*MockPeripheral
	t           float64
	passes      int
}

// NewMockTransport creates a transport with the given peripherals.
func NewMockTransport(peripherals ...*MockPeripheral) *MockTransport {
	return &MockTransport{peripherals: peripherals, Repeats: 1}
}

// NewDemoTransport creates a transport holding an echoing target that
// greets on subscription, plus a handful of random bystanders.
func NewDemoTransport(name, address string, desc ServiceDescriptor, bystanders int) *MockTransport {
	if address == "" {
		address = randomMAC()
	}
	target := &MockPeripheral{
		Address:   address,
		Name:      name,
		BaseRSSI:  -65,
		Amplitude: 8,
		Jitter:    3,
		CompanyID: 0x0059,
		Service:   desc,
		Greeting:  []byte("hello\n"),
		Echo:      true,
		phase:     rand.Float64() * 2 * math.Pi,
	}

	peripherals := []*MockPeripheral{target}
	perm := rand.Perm(len(mockBystanderNames))
	for i := 0; i < bystanders && i < len(perm); i++ {
		peripherals = append(peripherals, &MockPeripheral{
			Address:   randomMAC(),
			Name:      mockBystanderNames[perm[i]],
			BaseRSSI:  -40 - rand.Float64()*50, // -40 to -90 dBm
			Amplitude: 3 + rand.Float64()*8,    // 3-11 dBm fluctuation
			Jitter:    4,
			phase:     rand.Float64() * 2 * math.Pi,
		})
	}

	m := NewMockTransport(peripherals...)
	m.PassDuration = time.Second
	m.Repeats = 2
	return m
}

// Add registers another peripheral.
func (m *MockTransport) Add(p *MockPeripheral) {
	m.mu.Lock()
	m.peripherals = append(m.peripherals, p)
	m.mu.Unlock()
}

// Passes returns how many discovery passes have run.
func (m *MockTransport) Passes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

func (m *MockTransport) Enable() error {
	if m.EnableErr != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, m.EnableErr)
	}
	return nil
}

func (m *MockTransport) Discover(ctx context.Context, window time.Duration, fn func(Advertisement)) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if m.DiscoverErr != nil {
		return m.DiscoverErr
	}

	wait := m.PassDuration
	if window > 0 && window < wait {
		wait = window
	}
	if wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	m.mu.Lock()
	m.passes++
	peripherals := append([]*MockPeripheral(nil), m.peripherals...)
	repeats := m.Repeats
	if repeats <= 0 {
		repeats = 1
	}
	m.mu.Unlock()

	for r := 0; r < repeats; r++ {
		m.mu.Lock()
		m.t += 0.2
		t := m.t
		m.mu.Unlock()

		for _, p := range peripherals {
			if p.Hidden {
				continue
			}
			fn(Advertisement{
				Address:   p.Address,
				Name:      p.Name,
				RSSI:      p.rssi(t),
				CompanyID: p.CompanyID,
				SeenAt:    time.Now(),
			})
		}
	}
	return nil
}

func (m *MockTransport) Connect(ctx context.Context, address string) (Link, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	var target *MockPeripheral
	for _, p := range m.peripherals {
		if strings.EqualFold(p.Address, address) {
			target = p
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}

	l := &mockLink{peripheral: target, done: make(chan struct{})}
	target.mu.Lock()
	target.link = l
	target.notify = nil
	target.mu.Unlock()
	return l, nil
}

type mockLink struct {
	peripheral *MockPeripheral
	done       chan struct{}
	once       sync.Once
}

func (l *mockLink) Address() string       { return l.peripheral.Address }
func (l *mockLink) Done() <-chan struct{} { return l.done }

func (l *mockLink) close() {
	l.once.Do(func() { close(l.done) })
}

func (l *mockLink) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *mockLink) Disconnect() error {
	l.close()
	return nil
}

func (l *mockLink) Service(uuid string) (Service, error) {
	if !strings.EqualFold(uuid, l.peripheral.Service.ServiceUUID) {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, uuid)
	}
	return &mockService{link: l}, nil
}

type mockService struct {
	link *mockLink
}

func (s *mockService) Characteristic(uuid string) (Characteristic, error) {
	desc := s.link.peripheral.Service
	switch {
	case strings.EqualFold(uuid, desc.WriteUUID):
		return &mockCharacteristic{link: s.link, writable: true}, nil
	case strings.EqualFold(uuid, desc.ReadUUID):
		return &mockCharacteristic{link: s.link}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, uuid)
}

type mockCharacteristic struct {
	link     *mockLink
	writable bool
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	if c.link.closed() {
		return nil, errMockLinkClosed
	}
	p := c.link.peripheral
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reads) == 0 {
		return nil, nil
	}
	v := p.reads[0]
	p.reads = p.reads[1:]
	return v, nil
}

func (c *mockCharacteristic) Write(data []byte, confirmed bool) error {
	if !c.writable {
		return fmt.Errorf("mock: characteristic is not writable")
	}
	if c.link.closed() {
		return errMockLinkClosed
	}
	p := c.link.peripheral
	frame := append([]byte(nil), data...)
	p.mu.Lock()
	p.written = append(p.written, frame)
	hold := p.HoldWrites
	echo := p.Echo
	p.mu.Unlock()

	if confirmed && hold {
		<-c.link.done
		return errMockLinkClosed
	}
	if echo {
		go p.Notify(frame)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(fn func([]byte)) error {
	if c.link.closed() {
		return errMockLinkClosed
	}
	p := c.link.peripheral
	p.mu.Lock()
	p.notify = fn
	greeting := p.Greeting
	p.mu.Unlock()
	if len(greeting) > 0 {
		go p.Notify(greeting)
	}
	return nil
}

func randomMAC() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
