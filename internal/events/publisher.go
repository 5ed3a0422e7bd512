package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

// PositionRecord is the telemetry message for one simulated position
type PositionRecord struct {
	SessionID           string    `json:"session_id"`
	Epoch               uint64    `json:"epoch"`
	Tick                uint64    `json:"tick"`
	Point               geo.Point `json:"point"`
	PathIndex           int       `json:"path_index"`
	TotalDistanceMeters float64   `json:"total_distance_meters"`
	SpeedKmH            float64   `json:"speed_kmh"`
	Completed           bool      `json:"completed,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// PositionPublisher accepts position records without blocking the caller
type PositionPublisher interface {
	Publish(rec PositionRecord) bool
}

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NopPublisher discards records
type NopPublisher struct{}

// Publish implements PositionPublisher
func (NopPublisher) Publish(PositionRecord) bool { return true }

// KafkaPublisher streams position records to a Kafka topic. Records are
// queued in memory and written by a background goroutine in batches; when
// the queue is full new records are dropped so the drive never stalls.
type KafkaPublisher struct {
	writer    MessageWriter
	queue     chan PositionRecord
	batchSize int
	logger    *zap.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
	mu        sync.Mutex
	running   bool
	closed    bool
	done      chan struct{}
	stopped   chan struct{}
}

// NewKafkaWriter creates the Kafka writer for the position topic. Records
// are keyed by session so one drive stays on one partition.
func NewKafkaWriter(brokers []string, topic string, batchTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaPublisher creates a publisher queueing up to buffer records
func NewKafkaPublisher(writer MessageWriter, buffer int, logger *zap.Logger) *KafkaPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer:    writer,
		queue:     make(chan PositionRecord, buffer),
		batchSize: 100,
		logger:    logger,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Publish implements PositionPublisher
func (p *KafkaPublisher) Publish(rec PositionRecord) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.queue <- rec:
		return true
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warn("telemetry queue full, dropping positions", zap.Uint64("dropped", p.dropped.Load()))
		}
		return false
	}
}

// Start launches Run on its own goroutine. The publisher counts as running
// from the moment Start returns, so a Close that follows waits for the flush.
func (p *KafkaPublisher) Start(ctx context.Context) {
	if !p.claim() {
		return
	}
	go p.drain(ctx)
}

// Run drains the queue until ctx is canceled or Close is called. Queued
// records are flushed before Run returns. Run returns at once if the
// publisher is already running or closed.
func (p *KafkaPublisher) Run(ctx context.Context) {
	if !p.claim() {
		return
	}
	p.drain(ctx)
}

func (p *KafkaPublisher) claim() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.closed {
		return false
	}
	p.running = true
	return true
}

func (p *KafkaPublisher) drain(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background())
			return
		case <-p.done:
			p.flush(context.Background())
			return
		case rec := <-p.queue:
			batch := []PositionRecord{rec}
			batch = p.fill(batch)
			p.write(ctx, batch)
		}
	}
}

func (p *KafkaPublisher) fill(batch []PositionRecord) []PositionRecord {
	for len(batch) < p.batchSize {
		select {
		case rec := <-p.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (p *KafkaPublisher) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		batch := p.fill(nil)
		if len(batch) == 0 {
			return
		}
		p.write(ctx, batch)
	}
}

func (p *KafkaPublisher) write(ctx context.Context, batch []PositionRecord) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, rec := range batch {
		value, err := json.Marshal(rec)
		if err != nil {
			p.logger.Error("failed to encode position record", zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.SessionID),
			Value: value,
			Time:  rec.Timestamp,
		})
	}
	if len(msgs) == 0 {
		return
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Warn("failed to publish positions", zap.Int("count", len(msgs)), zap.Error(err))
		return
	}
	p.published.Add(uint64(len(msgs)))
}

// Published returns the number of records written
func (p *KafkaPublisher) Published() uint64 {
	return p.published.Load()
}

// Dropped returns the number of records discarded because the queue was full
func (p *KafkaPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting records, waits for a running Run to flush the queue
// and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	running := p.running
	close(p.done)
	p.mu.Unlock()

	if running {
		<-p.stopped
	}
	return p.writer.Close()
}
