package app

import (
	"time"

	"ble-bridge.klederson.com/internal/bridge"
)

// TickMsg refreshes relative timestamps.
type TickMsg time.Time

// ReadingMsg delivers one distance estimate from the scanning goroutine.
type ReadingMsg bridge.Reading

// DoneMsg reports that distance reporting stopped.
type DoneMsg struct {
	Err error
}
