// Package rendercache is the versioned on-disk cache of rendered evidence
// PNGs. Metadata rows live in SQLite, payloads are flat files under
// renders/. Entries are keyed by source identity and version, so a new
// document version never serves stale pixels.
package rendercache

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haasonsaas/docsight/internal/observability"
	"github.com/haasonsaas/docsight/pkg/models"
)

// Fixed-width UTC timestamps keep lexicographic order equal to time order
// inside SQLite text comparisons.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Options configures a cache instance.
type Options struct {
	// Dir is the cache root; empty means a directory under os.TempDir.
	Dir     string
	MaxMB   int64
	TTLDays int
	Enabled bool
}

// Cache stores rendered PNGs with LRU eviction under a byte budget and a
// TTL. Disabled caches still answer Stats and Invalidate so the admin
// surface keeps working.
type Cache struct {
	db       *sql.DB
	dir      string
	renders  string
	maxBytes int64
	ttl      time.Duration
	ttlDays  int
	enabled  bool

	log     *observability.Logger
	metrics *observability.Metrics

	mu sync.Mutex
}

// Stats is the admin-facing cache summary.
type Stats struct {
	Enabled        bool    `json:"enabled"`
	EntriesCount   int     `json:"entries_count"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalSizeMB    float64 `json:"total_size_mb"`
	MaxSizeMB      int64   `json:"max_size_mb"`
	TTLDays        int     `json:"ttl_days"`
	OldestEntry    string  `json:"oldest_entry,omitempty"`
	NewestEntry    string  `json:"newest_entry,omitempty"`
	CacheDir       string  `json:"cache_dir"`
}

// Open prepares the cache directory and metadata store.
func Open(opts Options, log *observability.Logger, metrics *observability.Metrics) (*Cache, error) {
	if log == nil {
		log = observability.NopLogger()
	}
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "docsight_evidence_cache")
	}
	renders := filepath.Join(dir, "renders")
	if err := os.MkdirAll(renders, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dbPath := filepath.Join(dir, "cache_metadata.db")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=30000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &Cache{
		db:       db,
		dir:      dir,
		renders:  renders,
		maxBytes: opts.MaxMB * 1024 * 1024,
		ttl:      time.Duration(opts.TTLDays) * 24 * time.Hour,
		ttlDays:  opts.TTLDays,
		enabled:  opts.Enabled,
		log:      log,
		metrics:  metrics,
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	c.gaugeTotal()
	return c, nil
}

func (c *Cache) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cache_key TEXT NOT NULL UNIQUE,
			source_version TEXT NOT NULL,
			file_path TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			last_access_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_key ON cache_entries(cache_key)`,
		`CREATE INDEX IF NOT EXISTS idx_last_access ON cache_entries(last_access_at)`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return fmt.Errorf("migrate cache db: %w", err)
		}
	}
	return nil
}

// Close releases the metadata store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Enabled reports whether Get/Put are active.
func (c *Cache) Enabled() bool {
	return c != nil && c.enabled
}

// Key builds the canonical cache key. The bbox fragment is rounded to four
// decimals so float noise does not split entries.
func Key(sourceID, sourceVersion string, page, dpi int, bbox *models.BBox) string {
	parts := []string{sourceID, sourceVersion, strconv.Itoa(page), strconv.Itoa(dpi)}
	if bbox != nil {
		parts = append(parts, bbox.Key())
	}
	return strings.Join(parts, ":")
}

func (c *Cache) filePath(key string) string {
	sum := md5.Sum([]byte(key))
	return filepath.Join(c.renders, hex.EncodeToString(sum[:])+".png")
}

// Get returns the cached PNG for the coordinates, touching its access time.
// Expired entries and rows whose file vanished are removed on the way.
func (c *Cache) Get(sourceID, sourceVersion string, page, dpi int, bbox *models.BBox) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key := Key(sourceID, sourceVersion, page, dpi, bbox)

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		id        int64
		filePath  string
		createdAt string
	)
	err := c.db.QueryRow(
		"SELECT id, file_path, created_at FROM cache_entries WHERE cache_key = ?", key,
	).Scan(&id, &filePath, &createdAt)
	if err == sql.ErrNoRows {
		c.count("miss", 1)
		return nil, false
	}
	if err != nil {
		c.log.Error(context.Background(), "render cache lookup failed", "error", err)
		c.count("miss", 1)
		return nil, false
	}

	if created, perr := time.Parse(timeLayout, createdAt); perr == nil && time.Since(created) > c.ttl {
		c.removeEntry(id, filePath)
		c.count("expired", 1)
		c.gaugeTotal()
		return nil, false
	}
	if _, serr := os.Stat(filePath); serr != nil {
		c.removeEntry(id, filePath)
		c.count("miss", 1)
		c.gaugeTotal()
		return nil, false
	}

	if _, uerr := c.db.Exec(
		"UPDATE cache_entries SET last_access_at = ? WHERE id = ?", formatTime(time.Now()), id,
	); uerr != nil {
		c.log.Warn(context.Background(), "render cache touch failed", "error", uerr)
	}

	data, rerr := os.ReadFile(filePath)
	if rerr != nil {
		c.log.Error(context.Background(), "render cache read failed", "path", filePath, "error", rerr)
		return nil, false
	}
	c.count("hit", 1)
	return data, true
}

// Put stores a rendered PNG, evicting older entries first when the budget
// requires it. Returns false when caching is disabled or storage failed;
// callers treat that as a soft condition.
func (c *Cache) Put(sourceID, sourceVersion string, page, dpi int, png []byte, bbox *models.BBox) bool {
	if !c.Enabled() {
		return false
	}
	key := Key(sourceID, sourceVersion, page, dpi, bbox)
	path := c.filePath(key)
	now := formatTime(time.Now())

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(int64(len(png)))

	if err := os.WriteFile(path, png, 0o644); err != nil {
		c.log.Error(context.Background(), "render cache write failed", "path", path, "error", err)
		return false
	}
	_, err := c.db.Exec(`INSERT INTO cache_entries
			(cache_key, source_version, file_path, size_bytes, created_at, last_access_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			source_version = excluded.source_version,
			file_path = excluded.file_path,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			last_access_at = excluded.last_access_at`,
		key, sourceVersion, path, len(png), now, now)
	if err != nil {
		c.log.Error(context.Background(), "render cache upsert failed", "error", err)
		_ = os.Remove(path)
		return false
	}
	c.gaugeTotal()
	return true
}

// Invalidate drops every entry belonging to a source, regardless of version.
func (c *Cache) Invalidate(sourceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		"SELECT id, file_path FROM cache_entries WHERE cache_key LIKE ?", sourceID+":%",
	)
	if err != nil {
		c.log.Error(context.Background(), "render cache invalidate query failed", "error", err)
		return 0
	}
	entries := collectEntries(rows)
	for _, e := range entries {
		c.removeEntry(e.id, e.path)
	}
	c.count("invalidated", len(entries))
	c.gaugeTotal()
	return len(entries)
}

// Clear drops every entry.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query("SELECT id, file_path FROM cache_entries")
	if err != nil {
		c.log.Error(context.Background(), "render cache clear query failed", "error", err)
		return 0
	}
	entries := collectEntries(rows)
	for _, e := range entries {
		c.removeEntry(e.id, e.path)
	}
	c.count("invalidated", len(entries))
	c.gaugeTotal()
	return len(entries)
}

// Sweep removes TTL-expired entries and evicts by LRU until the cache fits
// its byte budget. The cron schedule calls this periodically.
func (c *Cache) Sweep() (expired, evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(0)
}

// sweepLocked frees space for needed bytes: TTL pass first, then LRU
// eviction ordered by last_access_at.
func (c *Cache) sweepLocked(needed int64) (expired, evicted int) {
	cutoff := formatTime(time.Now().Add(-c.ttl))
	rows, err := c.db.Query(
		"SELECT id, file_path FROM cache_entries WHERE created_at < ?", cutoff,
	)
	if err == nil {
		for _, e := range collectEntries(rows) {
			c.removeEntry(e.id, e.path)
			expired++
		}
	}

	total := c.totalSize()
	for total+needed > c.maxBytes {
		var (
			id   int64
			path string
			size int64
		)
		err := c.db.QueryRow(
			"SELECT id, file_path, size_bytes FROM cache_entries ORDER BY last_access_at ASC LIMIT 1",
		).Scan(&id, &path, &size)
		if err != nil {
			break
		}
		c.removeEntry(id, path)
		total -= size
		evicted++
	}

	c.count("expired", expired)
	c.count("evicted", evicted)
	c.gaugeTotal()
	return expired, evicted
}

// Stats summarises the cache for the admin endpoint.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Enabled:   c.enabled,
		MaxSizeMB: c.maxBytes / (1024 * 1024),
		TTLDays:   c.ttlDays,
		CacheDir:  c.dir,
	}
	_ = c.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&s.EntriesCount)
	s.TotalSizeBytes = c.totalSize()
	s.TotalSizeMB = math.Round(float64(s.TotalSizeBytes)/(1024*1024)*100) / 100

	var oldest, newest sql.NullString
	_ = c.db.QueryRow("SELECT MIN(created_at), MAX(created_at) FROM cache_entries").Scan(&oldest, &newest)
	s.OldestEntry = oldest.String
	s.NewestEntry = newest.String
	return s
}

type entryRef struct {
	id   int64
	path string
}

func collectEntries(rows *sql.Rows) []entryRef {
	defer rows.Close()
	var out []entryRef
	for rows.Next() {
		var e entryRef
		if err := rows.Scan(&e.id, &e.path); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cache) removeEntry(id int64, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warn(context.Background(), "render cache file delete failed", "path", path, "error", err)
	}
	if _, err := c.db.Exec("DELETE FROM cache_entries WHERE id = ?", id); err != nil {
		c.log.Warn(context.Background(), "render cache row delete failed", "id", id, "error", err)
	}
}

func (c *Cache) totalSize() int64 {
	var total int64
	_ = c.db.QueryRow("SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries").Scan(&total)
	return total
}

func (c *Cache) count(outcome string, n int) {
	if c.metrics == nil || n <= 0 {
		return
	}
	c.metrics.CacheCounter.WithLabelValues(outcome).Add(float64(n))
}

func (c *Cache) gaugeTotal() {
	if c.metrics == nil {
		return
	}
	c.metrics.CacheBytes.Set(float64(c.totalSize()))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
