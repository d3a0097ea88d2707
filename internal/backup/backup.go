// Package backup snapshots the sync database to S3-compatible storage so a
// lost or reset device can rejoin the household with its grants, trash log,
// and queue intact.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds S3-compatible storage configuration. Backups are disabled
// when Bucket or credentials are empty.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	DBPath    string
	Interval  time.Duration
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Manager runs periodic and on-demand database snapshots.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	callback StatusCallback
	db       *sql.DB
	client   s3Client
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager creates a backup manager. The callback may be nil.
func NewManager(cfg Config, db *sql.DB, callback StatusCallback, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		callback: callback,
		logger:   logger,
		status:   Status{State: StateDisabled},
	}
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		m.client = newS3Client(cfg)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether backups are configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	status := m.status
	cb := m.callback
	m.mu.Unlock()
	if cb != nil {
		cb(status)
	}
}

// Start launches the periodic snapshot loop. No-op when disabled.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() || m.cfg.Interval <= 0 {
		return
	}
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Snapshot(ctx); err != nil {
					m.logger.Error("scheduled backup", "error", err)
				}
			}
		}
	}()
}

// Stop halts the periodic loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Snapshot writes a consistent copy of the database and uploads it. Safe to
// call while the database is in use; VACUUM INTO produces the copy without
// locking writers out.
func (m *Manager) Snapshot(ctx context.Context) error {
	if !m.Enabled() {
		return fmt.Errorf("backup not configured")
	}
	m.setStatus(func(s *Status) { s.State = StateRunning; s.Error = "" })

	err := m.snapshot(ctx)
	if err != nil {
		m.setStatus(func(s *Status) { s.State = StateError; s.Error = err.Error() })
		return err
	}

	now := time.Now().UTC()
	m.setStatus(func(s *Status) { s.State = StateIdle; s.LastBackup = &now })
	m.logger.Info("backup uploaded")
	return nil
}

func (m *Manager) snapshot(ctx context.Context) error {
	tmpDir, err := os.MkdirTemp("", "packrat-backup-*")
	if err != nil {
		return fmt.Errorf("make temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapPath := filepath.Join(tmpDir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", snapPath); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}

	f, err := os.Open(snapPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("packrat/%s.db", time.Now().UTC().Format("2006-01-02T15-04-05"))
	if _, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}
