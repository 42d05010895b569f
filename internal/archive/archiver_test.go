package archive

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/lucaslui/hems/sensor-node/internal/model"
)

type upload struct {
	name string
	data []byte
}

type fakeParts struct {
	mu      sync.Mutex
	uploads []upload
}

func (f *fakeParts) Put(_ context.Context, at time.Time, file string, r io.Reader, size int64) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	if int64(buf.Len()) != size {
		return "", io.ErrShortWrite
	}
	key := PartitionKey("readings", at, file)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, upload{key, buf.Bytes()})
	return key, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func reading(device string, faces uint16) model.ReadingPayload {
	return model.ReadingPayload{
		EventID: "e-" + device, DeviceID: device, Timestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		GestureType: 2, GestureName: "OK", GestureScore: 70, FaceNumber: faces, FaceScore: 90,
	}
}

func newArchiver(t *testing.T, max int) (*Archiver, *fakeParts, *clock) {
	t.Helper()
	up := &fakeParts{}
	clk := &clock{time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	a := NewArchiver(up, Options{
		MaxRecords:  max,
		MaxInterval: time.Minute,
		TempDir:     t.TempDir(),
	}, log.New(io.Discard, "", 0), clk.now)
	return a, up, clk
}

func readRows(t *testing.T, data []byte) []Row {
	t.Helper()
	path := filepath.Join(t.TempDir(), "back.parquet")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(Row), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer pr.ReadStop()
	rows := make([]Row, pr.GetNumRows())
	if err := pr.Read(&rows); err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestFullBatchIsUploaded(t *testing.T) {
	a, up, _ := newArchiver(t, 2)
	ctx := context.Background()
	a.Add(ctx, reading("n1", 1), time.Now())
	if len(up.uploads) != 0 {
		t.Fatal("uploaded before batch was full")
	}
	a.Add(ctx, reading("n2", 3), time.Now())

	if len(up.uploads) != 1 || a.Pending() != 0 {
		t.Fatalf("uploads=%d pending=%d", len(up.uploads), a.Pending())
	}
	if !strings.HasPrefix(up.uploads[0].name, "readings/year=2024/month=05/day=01/part-") {
		t.Fatalf("object name %q", up.uploads[0].name)
	}
	rows := readRows(t, up.uploads[0].data)
	if len(rows) != 2 || rows[1].DeviceID != "n2" || rows[1].FaceNumber != 3 || rows[0].GestureName != "OK" {
		t.Fatalf("rows %+v", rows)
	}
}

func TestFlushDueRespectsInterval(t *testing.T) {
	a, up, clk := newArchiver(t, 100)
	ctx := context.Background()
	a.Add(ctx, reading("n1", 1), time.Now())

	a.FlushDue(ctx, false)
	if len(up.uploads) != 0 {
		t.Fatal("flushed before interval")
	}
	clk.t = clk.t.Add(time.Minute)
	a.FlushDue(ctx, false)
	if len(up.uploads) != 1 {
		t.Fatal("expected interval flush")
	}
	a.FlushDue(ctx, true)
	if len(up.uploads) != 1 {
		t.Fatal("empty buffer must not upload")
	}
}

func TestRunFlushesOnExit(t *testing.T) {
	a, up, _ := newArchiver(t, 100)
	a.Add(context.Background(), reading("n1", 1), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	<-done
	if len(up.uploads) != 1 {
		t.Fatal("remaining readings not flushed on exit")
	}
}

func TestPartitionKey(t *testing.T) {
	at := time.Date(2024, 1, 2, 23, 0, 0, 0, time.FixedZone("x", -3*3600))
	cases := map[string]string{
		"base":  "base/year=2024/month=01/day=03/f.parquet",
		"base/": "base/year=2024/month=01/day=03/f.parquet",
		"":      "year=2024/month=01/day=03/f.parquet",
		"a/b":   "a/b/year=2024/month=01/day=03/f.parquet",
	}
	for base, want := range cases {
		if got := PartitionKey(base, at, "f.parquet"); got != want {
			t.Errorf("PartitionKey(%q) = %q, want %q", base, got, want)
		}
	}
}
