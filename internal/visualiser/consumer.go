package visualiser

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/framebuf"
	"github.com/banshee-data/agentsim/internal/monitoring"
)

// FrameSink receives every frame the Consumer reads. Publish must not block
// for long; it runs on the consumer goroutine.
type FrameSink interface {
	Publish(f agent.Frame)
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(f agent.Frame)

// Publish calls fn(f).
func (fn FrameSinkFunc) Publish(f agent.Frame) { fn(f) }

// Consumer is the reading side of the frame buffer.
type Consumer struct {
	buf    *framebuf.DoubleBuffer[agent.Frame]
	sinks  []FrameSink
	latest atomic.Pointer[agent.Frame]
	count  atomic.Uint64
}

// NewConsumer reads from buf and hands each frame to sinks in order.
func NewConsumer(buf *framebuf.DoubleBuffer[agent.Frame], sinks ...FrameSink) *Consumer {
	return &Consumer{buf: buf, sinks: sinks}
}

// Run reads until the producer ends the stream or ctx is done, and returns
// the number of frames consumed.
func (c *Consumer) Run(ctx context.Context) uint64 {
	for {
		f, ok := c.buf.Read(ctx)
		if !ok {
			n := c.count.Load()
			monitoring.Logf("[Consumer] stream finished after %d frames", n)
			return n
		}
		c.latest.Store(&f)
		c.count.Add(1)
		framesConsumed.Inc()
		for _, s := range c.sinks {
			s.Publish(f)
		}
	}
}

// Latest returns the most recent frame read, if any.
func (c *Consumer) Latest() (agent.Frame, bool) {
	f := c.latest.Load()
	if f == nil {
		return agent.Frame{}, false
	}
	return *f, true
}

// Count returns how many frames have been read.
func (c *Consumer) Count() uint64 { return c.count.Load() }
