package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the part of kafka.Writer the dispatcher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDispatcher batches readings in a background goroutine and flushes
// them when the batch is full, on every tick, and on Stop.
type KafkaDispatcher struct {
	writer   Writer
	logger   *log.Logger
	input    chan kafka.Message
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	maxBatch int
	tick     time.Duration
}

func NewKafkaDispatcher(w Writer, logger *log.Logger, capacity, maxBatch int, tick time.Duration) *KafkaDispatcher {
	d := &KafkaDispatcher{
		writer:   w,
		logger:   logger,
		input:    make(chan kafka.Message, capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		maxBatch: maxBatch,
		tick:     tick,
	}
	go d.loop()
	return d
}

func (d *KafkaDispatcher) loop() {
	defer close(d.done)
	batch := make([]kafka.Message, 0, d.maxBatch)
	t := time.NewTicker(d.tick)
	defer t.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.writer.WriteMessages(context.Background(), batch...); err != nil {
			d.logger.Printf("[kafka] write batch of %d failed: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case m := <-d.input:
			batch = append(batch, m)
			if len(batch) >= d.maxBatch {
				flush()
			}
		case <-t.C:
			flush()
		case <-d.stop:
			for {
				select {
				case m := <-d.input:
					batch = append(batch, m)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Enqueue blocks while the buffer is full.
func (d *KafkaDispatcher) Enqueue(m kafka.Message) {
	select {
	case d.input <- m:
	default:
		d.logger.Printf("[kafka] dispatcher buffer full, blocking")
		d.input <- m
	}
}

// Stop flushes everything queued and waits for the loop to exit.
func (d *KafkaDispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}
