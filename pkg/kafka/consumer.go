package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer wraps a Kafka reader that dispatches to a registered handler.
type Consumer struct {
	cfg     *ConsumerConfig
	reader  *kafka.Reader
	handler MessageHandler

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// NewConsumer creates a consumer from options.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		MinBytes:   1,
		MaxBytes:   10 << 20,
		BufferSize: 256,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group id is required")
	}
	return &Consumer{cfg: cfg}, nil
}

// RegisterHandler sets the handler; its Topic() decides what is consumed.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	c.handler = h
}

// Start begins consuming and blocks until Stop or a fatal reader error.
func (c *Consumer) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("consumer already started")
	}
	if c.handler == nil {
		c.mu.Unlock()
		return fmt.Errorf("no handler registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started = true
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:       c.cfg.Brokers,
		GroupID:       c.cfg.GroupID,
		Topic:         c.handler.Topic(),
		MinBytes:      c.cfg.MinBytes,
		MaxBytes:      c.cfg.MaxBytes,
		QueueCapacity: c.cfg.BufferSize,
	})
	c.mu.Unlock()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handler.Handle(ctx, m.Value); err != nil {
			// handler errors are not fatal; the message is committed and
			// surfaced through the handler's own metrics
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("commit: %w", err)
		}
	}
}

// Stop cancels consumption and closes the reader.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
