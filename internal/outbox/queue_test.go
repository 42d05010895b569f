package outbox

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
)

func openQueue(t *testing.T, limit int) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outbox.db")
	q, err := Open(path, limit, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	return q, path
}

func TestDrainPreservesOrder(t *testing.T) {
	q, _ := openQueue(t, 0)
	defer q.Close()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue("nodes/a/readings", []byte(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	n, err := q.Drain(func(topic string, p []byte) error {
		got = append(got, string(p))
		return nil
	}, 10)
	if err != nil || n != 3 {
		t.Fatalf("Drain = %d, %v", n, err)
	}
	if fmt.Sprint(got) != "[0 1 2]" {
		t.Fatalf("order = %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d", q.Len())
	}
}

func TestFailedPublishKeepsEntry(t *testing.T) {
	q, path := openQueue(t, 0)
	q.Enqueue("t", []byte("a"))
	q.Enqueue("t", []byte("b"))

	calls := 0
	n, err := q.Drain(func(string, []byte) error {
		calls++
		if calls == 2 {
			return errors.New("offline")
		}
		return nil
	}, 10)
	if err == nil || n != 1 {
		t.Fatalf("Drain = %d, %v", n, err)
	}
	q.Close()

	again, err := Open(path, 0, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if again.Len() != 1 {
		t.Fatalf("Len after reopen = %d, want 1", again.Len())
	}
	again.Drain(func(_ string, p []byte) error {
		if string(p) != "b" {
			t.Fatalf("payload = %q", p)
		}
		return nil
	}, 1)
}

func TestLimitDropsOldest(t *testing.T) {
	q, _ := openQueue(t, 2)
	defer q.Close()
	for _, p := range []string{"a", "b", "c"} {
		q.Enqueue("t", []byte(p))
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d", q.Len())
	}
	var first string
	q.Drain(func(_ string, p []byte) error {
		if first == "" {
			first = string(p)
		}
		return nil
	}, 10)
	if first != "b" {
		t.Fatalf("oldest kept = %q, want b", first)
	}
}
