package internal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gnolang/classmig/internal/jar"
	"github.com/gnolang/classmig/internal/rewriter"
)

// MigrationCache memoizes, per source archive identity, the path of its
// migrated archive. The first successful migration wins and entries are
// never invalidated for the lifetime of the cache.
type MigrationCache struct {
	CacheDir string
	rewriter *rewriter.Rewriter
	logger   *zap.Logger
	metrics  *Metrics

	entries map[string]string // source hash -> migrated path
	mutex   sync.RWMutex
	flight  singleflight.Group
}

// CacheOption configures a MigrationCache.
type CacheOption func(*MigrationCache)

// WithCacheLogger sets the logger cache hits and misses go to.
func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *MigrationCache) { c.logger = l }
}

// WithCacheMetrics records cache activity in m.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *MigrationCache) { c.metrics = m }
}

func NewMigrationCache(cacheDir string, rw *rewriter.Rewriter, opts ...CacheOption) (*MigrationCache, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &MigrationCache{
		CacheDir: cacheDir,
		rewriter: rw,
		logger:   zap.NewNop(),
		entries:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

// GetMigratedJar returns the path of the migrated form of source. An
// archive none of whose classes change is its own migrated form: its path
// is returned and nothing is recorded.
func (c *MigrationCache) GetMigratedJar(source string) (string, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("failed to read plugin: %w", err)
	}
	id := identity(data)

	if path, ok := c.lookup(id); ok {
		c.logger.Debug("migration cache hit", zap.String("source", source), zap.String("path", path))
		c.metrics.observeHit()
		return path, nil
	}

	v, err, _ := c.flight.Do(id, func() (any, error) {
		// a caller that lost the race may find the result already recorded
		if path, ok := c.lookup(id); ok {
			c.metrics.observeHit()
			return path, nil
		}
		return c.migrate(source, id, data)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the number of recorded migrations.
func (c *MigrationCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

func (c *MigrationCache) lookup(id string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	path, ok := c.entries[id]
	return path, ok
}

func (c *MigrationCache) migrate(source, id string, data []byte) (string, error) {
	entries, err := jar.Read(data)
	if err != nil {
		return "", fmt.Errorf("failed to read plugin %s: %w", source, err)
	}
	sum, err := c.rewriter.MigrateEntries(entries)
	if err != nil {
		return "", fmt.Errorf("failed to migrate %s: %w", source, err)
	}
	if !sum.Changed() {
		c.logger.Debug("nothing to migrate", zap.String("source", source))
		c.metrics.observePassThrough()
		return source, nil
	}

	var buf bytes.Buffer
	if err := jar.Write(&buf, entries); err != nil {
		return "", fmt.Errorf("failed to encode migrated plugin: %w", err)
	}
	path := filepath.Join(c.CacheDir, cacheName(source, id))
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}

	c.mutex.Lock()
	c.entries[id] = path
	c.mutex.Unlock()

	c.logger.Info("migrated plugin",
		zap.String("source", source),
		zap.String("path", path),
		zap.Int("classes", sum.Classes),
	)
	c.metrics.observeRewrite(sum.Classes, sum.Rules)
	return path, nil
}

// identity is the hex SHA-256 of an archive's bytes.
func identity(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cacheName derives "<basename>-<hash prefix>.jar" for a source archive.
func cacheName(source, id string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return fmt.Sprintf("%s-%s.jar", base, id[:16])
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".migrating-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write migrated plugin: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to move migrated plugin into place: %w", err)
	}
	return nil
}
