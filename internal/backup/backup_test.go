package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mhutchison/packrat/internal/database"
)

type fakeS3 struct {
	mu   sync.Mutex
	keys []string
	size int64
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n, err := io.Copy(io.Discard, input.Body)
	if err != nil {
		return nil, err
	}
	f.size = n
	f.keys = append(f.keys, *input.Key)
	return &s3.PutObjectOutput{}, nil
}

func setupManager(t *testing.T, client s3Client) *Manager {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(Config{
		Bucket: "packrat-backups", AccessKey: "ak", SecretKey: "sk", Region: "auto",
	}, db, nil, slog.Default())
	m.client = client
	return m
}

func TestSnapshotUploads(t *testing.T) {
	fake := &fakeS3{}
	m := setupManager(t, fake)

	if err := m.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(fake.keys) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(fake.keys))
	}
	if fake.size == 0 {
		t.Error("uploaded snapshot is empty")
	}

	st := m.Status()
	if st.State != StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
	if st.LastBackup == nil {
		t.Error("last backup time should be set")
	}
}

func TestSnapshotUploadFailure(t *testing.T) {
	fake := &fakeS3{err: errors.New("bucket unavailable")}
	m := setupManager(t, fake)

	if err := m.Snapshot(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	st := m.Status()
	if st.State != StateError {
		t.Errorf("state = %q, want error", st.State)
	}
	if st.Error == "" {
		t.Error("status should carry the error message")
	}
}

func TestSnapshotDisabledWithoutCredentials(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(Config{}, db, nil, slog.Default())
	if m.Enabled() {
		t.Error("manager without credentials should be disabled")
	}
	if err := m.Snapshot(context.Background()); err == nil {
		t.Error("snapshot on a disabled manager should refuse")
	}
}

func TestStatusCallbackFires(t *testing.T) {
	fake := &fakeS3{}
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var mu sync.Mutex
	var states []State
	m := NewManager(Config{
		Bucket: "b", AccessKey: "ak", SecretKey: "sk",
	}, db, func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}, slog.Default())
	m.client = fake

	if err := m.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != StateRunning || states[len(states)-1] != StateIdle {
		t.Errorf("states = %v, want running then idle", states)
	}
}

func TestStartStopLoop(t *testing.T) {
	fake := &fakeS3{}
	m := setupManager(t, fake)
	m.cfg.Interval = 10 * time.Millisecond

	m.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	fake.mu.Lock()
	uploads := len(fake.keys)
	fake.mu.Unlock()
	if uploads == 0 {
		t.Error("periodic loop never uploaded")
	}
}
