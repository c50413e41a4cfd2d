// Package cache persists slow-to-compute facts, such as the chip target
// behind a serial port, across test sessions.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const (
	// DirName is created inside the configured cache root.
	DirName  = "dutkit-cache"
	fileName = "cache.cbor"
	version  = 1
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

type fileData struct {
	Version int                          `cbor:"1,keyasint"`
	Buckets map[string]map[string]string `cbor:"2,keyasint"`
}

// Recorder is notified of every cache lookup and update.
type Recorder interface {
	CacheEvent(bucket, event string)
}

// Entry is one cached value.
type Entry struct {
	Bucket string
	Key    string
	Value  string
}

// Cache is a bucketed string map, optionally backed by a file. Values
// never expire; deleting the cache directory is the only invalidation.
type Cache struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	rec     Recorder
	data    map[string]map[string]string
	pending map[string]map[string]string
}

// Option configures Open.
type Option func(*Cache)

// WithRecorder reports hits and sets to r.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) { c.rec = r }
}

// Open loads the cache stored under root/dutkit-cache. An empty root
// gives a cache that lives in memory only.
func Open(root string, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		logger:  logger,
		data:    map[string]map[string]string{},
		pending: map[string]map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if root == "" {
		return c, nil
	}

	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	c.path = filepath.Join(dir, fileName)

	unlock, err := lockFile(c.path + ".lock")
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := readFile(c.path)
	if err != nil {
		// A corrupt cache is dropped, as if it had been deleted.
		logger.Warn("discarding unreadable cache", "path", c.path, "err", err)
		os.Remove(c.path)
		data = nil
	}
	if data != nil {
		c.data = data
	}
	logger.Debug("cache loaded", "path", c.path, "entries", c.lenLocked())
	return c, nil
}

// Path returns the cache file, or "" for an in-memory cache.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the value cached under bucket and key.
func (c *Cache) Get(bucket, key string) (string, bool) {
	c.mu.Lock()
	v, ok := c.data[bucket][key]
	c.mu.Unlock()

	if ok {
		c.logger.Debug("cache hit", "bucket", bucket, "key", key, "value", v)
		c.record(bucket, "hit")
	} else {
		c.record(bucket, "miss")
	}
	return v, ok
}

// Set stores value under bucket and key. Setting the same value again
// is harmless.
func (c *Cache) Set(bucket, key, value string) {
	c.mu.Lock()
	put(c.data, bucket, key, value)
	put(c.pending, bucket, key, value)
	c.mu.Unlock()

	c.logger.Debug("cache set", "bucket", bucket, "key", key, "value", value)
	c.record(bucket, "set")
}

// Entries returns every cached value sorted by bucket and key.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for b, kv := range c.data {
		for k, v := range kv {
			out = append(out, Entry{Bucket: b, Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Save merges the values set during this session into the cache file.
// Values stored by other sessions in the meantime are kept.
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}
	unlock, err := lockFile(c.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	disk, err := readFile(c.path)
	if err != nil || disk == nil {
		disk = map[string]map[string]string{}
	}

	c.mu.Lock()
	for b, kv := range c.pending {
		for k, v := range kv {
			put(disk, b, k, v)
		}
	}
	c.pending = map[string]map[string]string{}
	c.mu.Unlock()

	raw, err := encMode.Marshal(fileData{Version: version, Buckets: disk})
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// Clear removes every cached value, in memory and on disk.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.data = map[string]map[string]string{}
	c.pending = map[string]map[string]string{}
	c.mu.Unlock()
	if c.path == "" {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (c *Cache) lenLocked() int {
	n := 0
	for _, kv := range c.data {
		n += len(kv)
	}
	return n
}

func (c *Cache) record(bucket, event string) {
	if c.rec != nil {
		c.rec.CacheEvent(bucket, event)
	}
}

func put(m map[string]map[string]string, bucket, key, value string) {
	kv, ok := m[bucket]
	if !ok {
		kv = map[string]string{}
		m[bucket] = kv
	}
	kv[key] = value
}

func readFile(path string) (map[string]map[string]string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f fileData
	if err := decMode.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Version != version {
		return nil, fmt.Errorf("cache version %d, want %d", f.Version, version)
	}
	if f.Buckets == nil {
		f.Buckets = map[string]map[string]string{}
	}
	return f.Buckets, nil
}
