// Package events batches monitor output and fans it out to streaming
// subscribers such as WebSocket clients.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// Batch holds batched events for transmission.
type Batch struct {
	Packets   []*models.PacketRecord `json:"packets"`
	Alerts    []*models.Alert        `json:"alerts"`
	Stats     *models.CaptureStats   `json:"stats,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Empty reports whether the batch carries nothing.
func (b *Batch) Empty() bool {
	return len(b.Packets) == 0 && len(b.Alerts) == 0 && b.Stats == nil
}

// JSON returns the JSON representation of the batch.
func (b *Batch) JSON() ([]byte, error) {
	return json.Marshal(b)
}

// BatcherConfig holds configuration for the event batcher.
type BatcherConfig struct {
	// MaxBatchSize flushes early once this many packets are pending.
	// Default: 100
	MaxBatchSize int

	// FlushInterval is the maximum time an event waits before delivery.
	// Default: 250ms
	FlushInterval time.Duration

	// OnFlush receives every non-empty batch.
	OnFlush func(*Batch)
}

// DefaultBatcherConfig returns a sensible default configuration.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxBatchSize:  100,
		FlushInterval: 250 * time.Millisecond,
	}
}

// Batcher collects packet records and alerts and flushes them on a ticker
// or when the batch fills up.
type Batcher struct {
	config  BatcherConfig
	mu      sync.Mutex
	batch   *Batch
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool

	// deliverMu keeps batches in order.
	deliverMu sync.Mutex
}

// NewBatcher creates a new event batcher.
func NewBatcher(config BatcherConfig) *Batcher {
	def := DefaultBatcherConfig()
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = def.MaxBatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	return &Batcher{
		config: config,
		batch:  newBatch(config.MaxBatchSize),
	}
}

func newBatch(size int) *Batch {
	return &Batch{
		Packets: make([]*models.PacketRecord, 0, size),
		Alerts:  make([]*models.Alert, 0, 10),
	}
}

// Start starts the flush ticker. It is a no-op when already running.
func (b *Batcher) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}

	b.running = true
	b.ticker = time.NewTicker(b.config.FlushInterval)
	b.stopCh = make(chan struct{})

	b.wg.Add(1)
	go func(ticker *time.Ticker, stop <-chan struct{}) {
		defer b.wg.Done()
		for {
			select {
			case <-ticker.C:
				b.Flush()
			case <-stop:
				return
			}
		}
	}(b.ticker, b.stopCh)
}

// Stop stops the ticker and flushes anything pending.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.ticker.Stop()
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.Flush()
}

// AddPacket adds a packet record to the batch.
func (b *Batcher) AddPacket(rec *models.PacketRecord) {
	b.mu.Lock()
	b.batch.Packets = append(b.batch.Packets, rec)
	var out *Batch
	if len(b.batch.Packets) >= b.config.MaxBatchSize {
		out = b.takeLocked()
	}
	b.mu.Unlock()

	b.deliver(out)
}

// AddAlert adds an alert to the batch.
func (b *Batcher) AddAlert(alert *models.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch.Alerts = append(b.batch.Alerts, alert)
}

// SetStats attaches the latest capture statistics to the next batch.
func (b *Batcher) SetStats(stats *models.CaptureStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch.Stats = stats
}

// Flush delivers the pending batch immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	out := b.takeLocked()
	b.mu.Unlock()

	b.deliver(out)
}

// takeLocked swaps out the current batch (must be called with lock held).
func (b *Batcher) takeLocked() *Batch {
	if b.batch.Empty() {
		return nil
	}
	out := b.batch
	out.Timestamp = time.Now()
	b.batch = newBatch(b.config.MaxBatchSize)
	return out
}

func (b *Batcher) deliver(batch *Batch) {
	if batch == nil || b.config.OnFlush == nil {
		return
	}
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	b.config.OnFlush(batch)
}

// Subscription is a stream of batches.
type Subscription struct {
	C       <-chan *Batch
	ch      chan *Batch
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns how many batches were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Broadcaster fans batches out to subscribers. A subscriber whose buffer
// is full misses the batch instead of blocking the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool

	published atomic.Uint64
}

// NewBroadcaster creates a broadcaster with the given per-subscriber
// buffer size.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes it and closes its channel.
func (bc *Broadcaster) Subscribe() (*Subscription, func()) {
	ch := make(chan *Batch, bc.buffer)
	sub := &Subscription{C: ch, ch: ch}

	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		close(ch)
		return sub, func() {}
	}
	bc.subs[sub] = struct{}{}
	bc.mu.Unlock()

	return sub, func() { bc.remove(sub) }
}

func (bc *Broadcaster) remove(sub *Subscription) {
	bc.mu.Lock()
	_, ok := bc.subs[sub]
	delete(bc.subs, sub)
	bc.mu.Unlock()
	if ok {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Publish delivers batch to every subscriber without blocking.
func (bc *Broadcaster) Publish(batch *Batch) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	bc.published.Add(1)
	for sub := range bc.subs {
		select {
		case sub.ch <- batch:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (bc *Broadcaster) Subscribers() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.subs)
}

// Published returns how many batches have been published.
func (bc *Broadcaster) Published() uint64 {
	return bc.published.Load()
}

// Close disconnects all subscribers.
func (bc *Broadcaster) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.closed {
		return
	}
	bc.closed = true
	for sub := range bc.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(bc.subs, sub)
	}
}
