package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console prints every payload, one per line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Publish(_ context.Context, topic, payload string, _ byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "received [%s]: %s\n", topic, strings.TrimRight(payload, "\r\n"))
	return err
}

func (c *Console) Close() error { return nil }
