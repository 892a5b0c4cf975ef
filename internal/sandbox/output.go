package sandbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// outputCapture accumulates stdout/stderr lines for the final Result and
// forwards each line to the adapter through a buffered goroutine so the
// script never blocks on delivery. Forwarding preserves emission order;
// delivery failures are logged and swallowed.
type outputCapture struct {
	runID   string
	adapter Adapter

	mu     sync.Mutex
	stdout []string
	stderr []string

	ch   chan OutputEvent
	done chan struct{}
	wg   sync.WaitGroup
}

const outputBuffer = 1024

func newOutputCapture(runID string, adapter Adapter) *outputCapture {
	return &outputCapture{
		runID:   runID,
		adapter: adapter,
		ch:      make(chan OutputEvent, outputBuffer),
		done:    make(chan struct{}),
	}
}

func (c *outputCapture) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.forwardLoop(ctx)
}

// Line records one output line and queues it for forwarding.
func (c *outputCapture) Line(stream Stream, line string) {
	c.mu.Lock()
	if stream == StreamStderr {
		c.stderr = append(c.stderr, line)
	} else {
		c.stdout = append(c.stdout, line)
	}
	c.mu.Unlock()

	ev := OutputEvent{
		RunID:     c.runID,
		Stream:    stream,
		Line:      line,
		Timestamp: time.Now(),
	}

	select {
	case c.ch <- ev:
	default:
		log.Warn().Str("run_id", c.runID).Msg("output buffer full, dropping forwarded line")
	}
}

// Stdout returns the newline-joined stdout lines captured so far.
func (c *outputCapture) Stdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.stdout, "\n")
}

// Stderr returns the newline-joined stderr lines captured so far.
func (c *outputCapture) Stderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.stderr, "\n")
}

// Flush stops the forwarder after draining queued events, waiting at most
// timeout before giving up.
func (c *outputCapture) Flush(timeout time.Duration) {
	close(c.done)

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		log.Warn().Str("run_id", c.runID).Msg("output forwarder flush timed out")
	}
}

func (c *outputCapture) forwardLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case ev := <-c.ch:
			c.forward(ctx, ev)
		case <-c.done:
			// Drain remaining events
			for {
				select {
				case ev := <-c.ch:
					c.forward(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (c *outputCapture) forward(ctx context.Context, ev OutputEvent) {
	if c.adapter == nil {
		return
	}
	if err := c.adapter.EmitOutput(ctx, ev); err != nil {
		log.Debug().Err(err).Str("run_id", c.runID).Msg("output delivery failed")
	}
}
