package bridge

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
)

// LineSource produces outbound lines. The channel is closed at end of input.
type LineSource interface {
	Lines(ctx context.Context) <-chan []byte
}

// ReaderSource reads newline-terminated lines from r (usually stdin).
// The delimiter stays on each line, matching what the firmware expects.
type ReaderSource struct {
	r    io.Reader
	once sync.Once
	ch   chan []byte
	mu   sync.Mutex
	err  error
}

// NewReaderSource creates a line source over r.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Lines starts the producer on first call; later calls return the same channel.
// A blocked read cannot be interrupted, so after ctx ends the producer exits
// as soon as the read returns.
func (s *ReaderSource) Lines(ctx context.Context) <-chan []byte {
	s.once.Do(func() {
		s.ch = make(chan []byte)
		go s.produce(ctx)
	})
	return s.ch
}

func (s *ReaderSource) produce(ctx context.Context) {
	defer close(s.ch)
	br := bufio.NewReader(s.r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case s.ch <- line:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// Err returns the read error that ended input, nil on clean EOF.
func (s *ReaderSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ChanSource adapts a caller-owned channel, for programmatic feeds.
type ChanSource <-chan []byte

func (c ChanSource) Lines(context.Context) <-chan []byte { return c }

// SliceSource replays fixed lines and then ends.
func SliceSource(lines ...string) LineSource {
	ch := make(chan []byte, len(lines))
	for _, l := range lines {
		ch <- []byte(l)
	}
	close(ch)
	return ChanSource(ch)
}
