package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/agentsim/internal/agent"
	"github.com/banshee-data/agentsim/internal/monitoring"
)

const (
	frameQueueSize  = 100
	clientQueueSize = 10
	statsInterval   = 5 * time.Second
)

// Config holds configuration for the visualiser gRPC server.
type Config struct {
	// ListenAddr is the gRPC address, e.g. "localhost:50051". Empty disables
	// the gRPC server; websocket clients still receive frames.
	ListenAddr string

	// MaxClients caps concurrent subscribers across gRPC and websocket.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50051",
		MaxClients: 16,
	}
}

// Publisher fans frames out to subscribers.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	frameChan chan FrameMessage
	clients   map[string]*subscriber
	clientsMu sync.RWMutex

	frameCount     atomic.Uint64
	clientCount    atomic.Int32
	droppedFrames  atomic.Uint64
	lastStatsTime  time.Time
	lastFrameCount uint64
	lastStatsMu    sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscriber struct {
	id      string
	frameCh chan FrameMessage
	doneCh  chan struct{}
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{
		config:    cfg,
		frameChan: make(chan FrameMessage, frameQueueSize),
		clients:   make(map[string]*subscriber),
		stopCh:    make(chan struct{}),
	}
}

// Start begins broadcasting and, when a listen address is configured,
// serves the Visualiser gRPC service.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}

	if p.config.ListenAddr != "" {
		lis, err := net.Listen("tcp", p.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		p.listener = lis
		p.server = grpc.NewServer()
		RegisterVisualiserServer(p.server, NewServer(p))
	}

	p.running.Store(true)
	p.wg.Add(1)
	go p.broadcastLoop()

	if p.server != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			monitoring.Logf("[Visualiser] gRPC server listening on %s", p.listener.Addr())
			if err := p.server.Serve(p.listener); err != nil && p.running.Load() {
				monitoring.Logf("[Visualiser] gRPC server error: %v", err)
			}
		}()
	}
	return nil
}

// Addr returns the bound gRPC address, or nil when gRPC is disabled.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop closes every subscriber and stops the gRPC server.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)

	if p.server != nil {
		p.server.Stop()
	}
	p.wg.Wait()

	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	p.clientCount.Store(0)
	monitoring.Logf("[Visualiser] stopped after %d frames (%d dropped)", p.frameCount.Load(), p.droppedFrames.Load())
}

// Publish queues f for every subscriber. It never blocks: when the queue is
// full the frame is dropped.
func (p *Publisher) Publish(f agent.Frame) {
	if !p.running.Load() {
		return
	}
	msg := FromFrame(f)
	select {
	case p.frameChan <- msg:
		count := p.frameCount.Add(1)
		p.logPeriodicStats(count)
	default:
		dropped := p.droppedFrames.Add(1)
		framesDropped.Inc()
		monitoring.Logf("[Visualiser] dropped frame %d (total dropped: %d), queue full", msg.Index, dropped)
	}
}

func (p *Publisher) logPeriodicStats(frameCount uint64) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()

	now := time.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		p.lastFrameCount = frameCount
		return
	}
	elapsed := now.Sub(p.lastStatsTime)
	if elapsed < statsInterval {
		return
	}
	frames := frameCount - p.lastFrameCount
	monitoring.Logf("[Visualiser] Stats: fps=%.1f frames=%d dropped=%d clients=%d queue=%d/%d",
		float64(frames)/elapsed.Seconds(), frames, p.droppedFrames.Load(), p.clientCount.Load(),
		len(p.frameChan), frameQueueSize)
	p.lastStatsTime = now
	p.lastFrameCount = frameCount
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.frameCh <- msg:
				default:
					// slow client
					p.droppedFrames.Add(1)
					framesDropped.Inc()
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Subscribe registers a new subscriber. The returned channel receives
// frames until cancel is called or the publisher stops, after which done is
// closed.
func (p *Publisher) Subscribe(prefix string) (frames <-chan FrameMessage, done <-chan struct{}, cancel func(), err error) {
	if limit := p.config.MaxClients; limit > 0 && int(p.clientCount.Load()) >= limit {
		return nil, nil, nil, fmt.Errorf("too many clients (%d)", limit)
	}
	c := &subscriber{
		id:      prefix + "-" + uuid.NewString(),
		frameCh: make(chan FrameMessage, clientQueueSize),
		doneCh:  make(chan struct{}),
	}
	p.clientsMu.Lock()
	p.clients[c.id] = c
	p.clientsMu.Unlock()
	n := p.clientCount.Add(1)
	connectedClients.Set(float64(n))
	monitoring.Logf("[Visualiser] client connected: %s (total: %d)", c.id, n)

	return c.frameCh, c.doneCh, func() { p.removeClient(c.id) }, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	c, ok := p.clients[id]
	if ok {
		close(c.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	if !ok {
		return
	}
	n := p.clientCount.Add(-1)
	connectedClients.Set(float64(n))
	monitoring.Logf("[Visualiser] client disconnected: %s (remaining: %d)", id, n)
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64
	DroppedFrames uint64
	ClientCount   int32
	Running       bool
}
