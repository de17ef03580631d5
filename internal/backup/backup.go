// Package backup ships encrypted snapshots of the ledger database to
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"
)

// s3Client is the part of the S3 API the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Config struct {
	Bucket     string
	Prefix     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Retention  time.Duration
}

const keyLayout = "2006-01-02T150405Z"

// Snapshot describes one stored backup.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Manager struct {
	db     *sql.DB
	cfg    Config
	client s3Client
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a manager with an S3 client. Static keys are used when set;
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, db *sql.DB, cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.Bucket == "" || cfg.Passphrase == "" {
		return nil, errors.New("backup: bucket and passphrase are required")
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newManager(db, cfg, client, logger), nil
}

func newManager(db *sql.DB, cfg Config, client s3Client, logger *slog.Logger) *Manager {
	return &Manager{
		db:     db,
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "backup"),
		now:    time.Now,
	}
}

func newS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func (m *Manager) key(at time.Time) string {
	return path.Join(m.cfg.Prefix, fmt.Sprintf("backup-%s.db.enc", at.UTC().Format(keyLayout)))
}

// Run snapshots the database, encrypts it and uploads it. VACUUM INTO gives
// a consistent copy without pausing writers.
func (m *Manager) Run(ctx context.Context) (*Snapshot, error) {
	tmpDir, err := os.MkdirTemp("", "chorebank-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	copyPath := filepath.Join(tmpDir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, copyPath); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}
	plain, err := os.ReadFile(copyPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	sealed, err := Seal(plain, m.cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt snapshot: %w", err)
	}

	at := m.now().UTC()
	snap := &Snapshot{Key: m.key(at), Size: int64(len(sealed)), CreatedAt: at}
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(snap.Key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(snap.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("upload snapshot: %w", err)
	}

	m.logger.Info("backup uploaded", "key", snap.Key, "bytes", snap.Size)
	return snap, nil
}

// List returns stored snapshots, oldest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	var (
		snaps []Snapshot
		token *string
	)
	prefix := strings.TrimSuffix(m.cfg.Prefix, "/") + "/"
	for {
		out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			at, ok := parseKey(key)
			if !ok {
				continue
			}
			snaps = append(snaps, Snapshot{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: at})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps, nil
}

// parseKey reads the timestamp back out of a snapshot key. Objects that do
// not follow the naming scheme are ignored.
func parseKey(key string) (time.Time, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "backup-") || !strings.HasSuffix(name, ".db.enc") {
		return time.Time{}, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, "backup-"), ".db.enc")
	at, err := time.Parse(keyLayout, ts)
	return at, err == nil
}

// Prune deletes snapshots older than the retention period. The newest
// snapshot is always kept. A zero retention keeps everything.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	if m.cfg.Retention <= 0 {
		return 0, nil
	}
	snaps, err := m.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.cfg.Retention)

	var (
		deleted int
		errs    []error
	)
	for i, s := range snaps {
		if i == len(snaps)-1 || !s.CreatedAt.Before(cutoff) {
			break
		}
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(s.Key),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", s.Key, err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		m.logger.Info("old backups pruned", "count", deleted)
	}
	return deleted, errors.Join(errs...)
}

// Restore downloads a snapshot, decrypts it and checks its integrity before
// writing it to dst. dst must not exist, so a live database is never
// overwritten; the operator swaps files while the service is stopped.
func (m *Manager) Restore(ctx context.Context, key, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("restore: %s already exists", dst)
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	plain, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return err
	}

	tmp := dst + ".partial"
	if err := os.WriteFile(tmp, plain, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := checkIntegrity(ctx, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move snapshot into place: %w", err)
	}
	m.logger.Info("backup restored", "key", key, "path", dst)
	return nil
}

func checkIntegrity(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Start runs a backup and prune every interval until Stop or ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil || interval <= 0 {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
	m.logger.Info("backup scheduler started", "interval", interval)
}

func (m *Manager) tick(ctx context.Context) {
	if _, err := m.Run(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
		return
	}
	if _, err := m.Prune(ctx); err != nil {
		m.logger.Error("backup prune failed", "error", err)
	}
}

// Stop halts the scheduler and waits for an in-flight backup to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
