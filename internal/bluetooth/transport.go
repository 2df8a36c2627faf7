package bluetooth

import (
	"context"
	"time"
)

// Transport is the radio stack: discovery and connection establishment.
type Transport interface {
	// Enable powers up the adapter. Failure means the radio is unusable.
	Enable() error
	// Discover scans for window and calls fn for every advertisement heard,
	// possibly several times per peripheral. It returns when the window
	// elapses or ctx is done.
	Discover(ctx context.Context, window time.Duration, fn func(Advertisement)) error
	// Connect opens a link to a peripheral previously seen by Discover.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is an established connection to one peripheral.
type Link interface {
	Address() string
	// Service resolves a primary service by UUID.
	Service(uuid string) (Service, error)
	// Done is closed when the peripheral or the stack drops the link.
	Done() <-chan struct{}
	Disconnect() error
}

// Service is a resolved GATT service.
type Service interface {
	Characteristic(uuid string) (Characteristic, error)
}

// Characteristic is a resolved GATT characteristic.
type Characteristic interface {
	Read() ([]byte, error)
	// Write sends one frame. With confirmed set it returns only after the
	// peripheral acknowledged the write.
	Write(data []byte, confirmed bool) error
	// Subscribe enables notifications; fn runs on the stack's delivery path.
	Subscribe(fn func([]byte)) error
}

// ServiceDescriptor names the custom service and its two characteristics.
type ServiceDescriptor struct {
	ServiceUUID string
	WriteUUID   string // central -> peripheral
	ReadUUID    string // peripheral -> central, notify or read
}
