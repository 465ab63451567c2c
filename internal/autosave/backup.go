package autosave

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/config"
)

var (
	// ErrNoBackup is returned when a slot holds nothing
	ErrNoBackup = errors.New("no backup")
	// ErrQuotaExceeded is returned when a write would exceed the store quota
	ErrQuotaExceeded = errors.New("backup quota exceeded")
)

// BackupStore holds one shadow copy per key
type BackupStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// BackupKey returns the slot of a project; projects without id share "default"
func BackupKey(projectID string) string {
	if projectID == "" {
		projectID = "default"
	}
	return "autosave_" + projectID
}

// NewBackupStore creates the store selected by backup.type
func NewBackupStore(cfg config.BackupConfig, logger *zap.Logger) (BackupStore, error) {
	if cfg.Type == "redis" {
		store, err := NewRedisBackupStore(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := NewFileBackupStore(cfg.Dir, cfg.QuotaBytes)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// FileBackupStore keeps one JSON file per key in a directory. quota caps the
// bytes of the whole directory; zero disables the cap.
type FileBackupStore struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

// NewFileBackupStore creates the backup directory if needed
func NewFileBackupStore(dir string, quota int64) (*FileBackupStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &FileBackupStore{dir: dir, quota: quota}, nil
}

func (s *FileBackupStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

// Save replaces the slot atomically
func (s *FileBackupStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)

	if s.quota > 0 {
		used, err := s.usage(target)
		if err != nil {
			return err
		}
		if used+int64(len(data)) > s.quota {
			return fmt.Errorf("%w: %d of %d bytes used", ErrQuotaExceeded, used, s.quota)
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".backup-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace backup: %w", err)
	}
	return nil
}

// usage sums the stored slots, leaving out the one about to be replaced
func (s *FileBackupStore) usage(except string) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if filepath.Join(s.dir, e.Name()) == except {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Load returns the slot content or ErrNoBackup
func (s *FileBackupStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	return data, nil
}

// Delete empties the slot; deleting an empty slot is not an error
func (s *FileBackupStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}

// RedisBackupStore keeps slots in Redis with a TTL
type RedisBackupStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisBackupStore connects to Redis and checks the connection
func NewRedisBackupStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisBackupStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		logger.Debug("Redis URL is not a URL, using it as an address", zap.String("url", cfg.URL))
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr))

	return NewRedisBackupStoreWithClient(client, cfg.TTL), nil
}

// NewRedisBackupStoreWithClient wraps an existing client
func NewRedisBackupStoreWithClient(client *redis.Client, ttl time.Duration) *RedisBackupStore {
	return &RedisBackupStore{client: client, ttl: ttl, prefix: "portfolio-cms:"}
}

// Save implements BackupStore
func (s *RedisBackupStore) Save(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store backup: %w", err)
	}
	return nil
}

// Load implements BackupStore
func (s *RedisBackupStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	return data, nil
}

// Delete implements BackupStore
func (s *RedisBackupStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisBackupStore) Close() error {
	return s.client.Close()
}
