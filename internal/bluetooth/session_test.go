package bluetooth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ble-bridge.klederson.com/internal/logging"
)

var testDescriptor = ServiceDescriptor{
	ServiceUUID: "4A981234-1CC4-E7C1-C757-F1267DD021E8",
	WriteUUID:   "4A981235-1CC4-E7C1-C757-F1267DD021E8",
	ReadUUID:    "4A981236-1CC4-E7C1-C757-F1267DD021E8",
}

const testAddress = "66:22:9D:37:7E:1D"

func newTestPeripheral() *MockPeripheral {
	return &MockPeripheral{
		Address:  testAddress,
		Name:     "contactTracing",
		BaseRSSI: -60,
		Service:  testDescriptor,
	}
}

func openSession(t *testing.T, p *MockPeripheral) *Session {
	t.Helper()
	s := NewSession(NewMockTransport(p), testDescriptor, logging.Discard())
	require.NoError(t, s.Open(context.Background(), testAddress))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionOpenAndClose(t *testing.T) {
	p := newTestPeripheral()
	s := NewSession(NewMockTransport(p), testDescriptor, logging.Discard())
	assert.Equal(t, StateDisconnected, s.State())
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.Open(context.Background(), testAddress))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, testAddress, s.Address())
	assert.True(t, p.Connected())

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.NoError(t, s.Err())
	assert.False(t, p.Connected())

	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.NoError(t, s.Close())
}

func TestSessionOpenOnlyOnce(t *testing.T) {
	s := openSession(t, newTestPeripheral())
	assert.ErrorIs(t, s.Open(context.Background(), testAddress), ErrAlreadyOpened)
}

func TestSessionResolutionFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceDescriptor)
		want   error
	}{
		{"service", func(d *ServiceDescriptor) { d.ServiceUUID = "13012F01-F8C3-4F4A-A8F4-15CD926DA146" }, ErrServiceNotFound},
		{"write characteristic", func(d *ServiceDescriptor) { d.WriteUUID = "13012F02-F8C3-4F4A-A8F4-15CD926DA146" }, ErrCharacteristicNotFound},
		{"read characteristic", func(d *ServiceDescriptor) { d.ReadUUID = "13012F03-F8C3-4F4A-A8F4-15CD926DA146" }, ErrCharacteristicNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPeripheral()
			desc := testDescriptor
			tt.mutate(&desc)

			s := NewSession(NewMockTransport(p), desc, logging.Discard())
			err := s.Open(context.Background(), testAddress)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateClosed, s.State())
			assert.ErrorIs(t, s.Err(), tt.want)
			assert.False(t, p.Connected())
		})
	}
}

func TestSessionConnectUnknownAddress(t *testing.T) {
	s := NewSession(NewMockTransport(newTestPeripheral()), testDescriptor, logging.Discard())
	err := s.Open(context.Background(), "00:00:00:00:00:00")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionNotificationHandler(t *testing.T) {
	p := newTestPeripheral()
	s := openSession(t, p)

	got := make(chan []byte, 1)
	require.NoError(t, s.RegisterNotificationHandler(func(b []byte) { got <- b }))
	assert.ErrorIs(t, s.RegisterNotificationHandler(func([]byte) {}), ErrHandlerRegistered)

	require.True(t, p.Notify([]byte("r\r\n")))
	select {
	case b := <-got:
		assert.Equal(t, []byte("r\r\n"), b)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestSessionHandlerRequiresConnection(t *testing.T) {
	s := NewSession(NewMockTransport(newTestPeripheral()), testDescriptor, logging.Discard())
	assert.ErrorIs(t, s.RegisterNotificationHandler(func([]byte) {}), ErrNotConnected)
	assert.ErrorIs(t, s.WriteLine(context.Background(), []byte("x\n"), false), ErrNotConnected)
}

func TestSessionWriteLine(t *testing.T) {
	p := newTestPeripheral()
	s := openSession(t, p)

	require.NoError(t, s.WriteLine(context.Background(), []byte("g\n"), true))
	require.NoError(t, s.WriteLine(context.Background(), []byte("b\n"), false))

	assert.Equal(t, [][]byte{[]byte("g\n"), []byte("b\n")}, p.Written())
}

func TestSessionConfirmedWriteWaitsForAck(t *testing.T) {
	p := newTestPeripheral()
	p.HoldWrites = true
	s := openSession(t, p)

	result := make(chan error, 1)
	go func() {
		result <- s.WriteLine(context.Background(), []byte("t\n"), true)
	}()

	select {
	case err := <-result:
		t.Fatalf("write completed without acknowledgement: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// A second write while the first is outstanding is refused.
	assert.ErrorIs(t, s.WriteLine(context.Background(), []byte("i\n"), false), ErrWriteInProgress)

	p.Drop()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrLinkDropped)
	case <-time.After(time.Second):
		t.Fatal("write still pending after link drop")
	}
}

func TestSessionWriteContextCancel(t *testing.T) {
	p := newTestPeripheral()
	p.HoldWrites = true
	s := openSession(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.WriteLine(ctx, []byte("p\n"), true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The transport call is still outstanding.
	assert.ErrorIs(t, s.WriteLine(context.Background(), []byte("p\n"), true), ErrWriteInProgress)
}

func TestSessionLinkDrop(t *testing.T) {
	p := newTestPeripheral()
	s := openSession(t, p)

	p.Drop()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not observe link drop")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), ErrLinkDropped)
	assert.True(t, IsFatal(s.Err()))
}

func TestSessionPoll(t *testing.T) {
	p := newTestPeripheral()
	p.QueueRead([]byte("12.5\n"), nil, []byte("13.0\n"))
	s := openSession(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- s.Poll(ctx, 200, func(b []byte) {
			mu.Lock()
			got = append(got, string(b))
			n := len(got)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
	mu.Lock()
	assert.Equal(t, []string{"12.5\n", "13.0\n"}, got)
	mu.Unlock()
}

func TestSessionPollDeadlineBeforeNextRead(t *testing.T) {
	p := newTestPeripheral()
	p.QueueRead([]byte("21.0\n"), []byte("21.5\n"))
	s := openSession(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var got []string
	err := s.Poll(ctx, 1, func(b []byte) { got = append(got, string(b)) })
	require.Error(t, err, "a deadline that cuts the next read short is not a clean stop")
	assert.NoError(t, ctx.Err(), "returned without waiting out the deadline")
	assert.Equal(t, []string{"21.0\n"}, got)
	assert.Equal(t, StateConnected, s.State())
}

func TestSessionPollAndNotifyExclusive(t *testing.T) {
	s := openSession(t, newTestPeripheral())
	require.NoError(t, s.RegisterNotificationHandler(func([]byte) {}))

	err := s.Poll(context.Background(), 0, func([]byte) {})
	assert.ErrorIs(t, err, ErrModeConflict)
}

func TestSessionPollStopsOnDrop(t *testing.T) {
	p := newTestPeripheral()
	s := openSession(t, p)

	done := make(chan error, 1)
	go func() { done <- s.Poll(context.Background(), 100, func([]byte) {}) }()

	time.Sleep(30 * time.Millisecond)
	p.Drop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLinkDropped)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop on drop")
	}
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}
