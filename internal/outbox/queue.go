package outbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucket = []byte("outbox")

type entry struct {
	Topic    string    `json:"topic"`
	Payload  []byte    `json:"payload"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Queue is a durable FIFO of outbound messages. An entry is removed only
// after it was published, so delivery is at least once.
type Queue struct {
	db     *bolt.DB
	limit  int
	logger *log.Logger
}

// Open creates or reopens the queue file. When more than limit entries
// are pending the oldest are dropped; limit <= 0 means unbounded.
func Open(path string, limit int, logger *log.Logger) (*Queue, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create outbox bucket: %w", err)
	}
	return &Queue{db: db, limit: limit, logger: logger}, nil
}

func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (q *Queue) Enqueue(topic string, payload []byte) error {
	raw, err := json.Marshal(entry{Topic: topic, Payload: payload, QueuedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(key(seq), raw); err != nil {
			return err
		}
		if q.limit <= 0 {
			return nil
		}
		var stale [][]byte
		c := b.Cursor()
		excess := count(c) - q.limit
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		dropped := len(stale)
		if dropped > 0 {
			q.logger.Printf("[outbox] full, dropped %d oldest message(s)", dropped)
		}
		return nil
	})
}

func count(c *bolt.Cursor) int {
	n := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func (q *Queue) Len() int {
	n := 0
	_ = q.db.View(func(tx *bolt.Tx) error {
		n = count(tx.Bucket(bucket).Cursor())
		return nil
	})
	return n
}

// Drain publishes up to max entries in order and stops at the first
// failure, leaving that entry queued.
func (q *Queue) Drain(publish func(topic string, payload []byte) error, max int) (int, error) {
	sent := 0
	for sent < max {
		var (
			k []byte
			e entry
		)
		err := q.db.View(func(tx *bolt.Tx) error {
			fk, v := tx.Bucket(bucket).Cursor().First()
			if fk == nil {
				return nil
			}
			k = append([]byte(nil), fk...)
			return json.Unmarshal(v, &e)
		})
		if err != nil {
			// undecodable entries would block the queue forever
			q.logger.Printf("[outbox] dropping corrupt entry: %v", err)
			if err := q.delete(k); err != nil {
				return sent, err
			}
			continue
		}
		if k == nil {
			return sent, nil
		}
		if err := publish(e.Topic, e.Payload); err != nil {
			return sent, fmt.Errorf("publish %s: %w", e.Topic, err)
		}
		if err := q.delete(k); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (q *Queue) delete(k []byte) error {
	if k == nil {
		return nil
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(k)
	})
}

func (q *Queue) Close() error { return q.db.Close() }
