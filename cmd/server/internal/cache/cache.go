// Package cache stores chunk transcriptions on disk so a re-run of the same
// recording does not pay for the provider call twice.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/metrics"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
)

const (
	// DefaultTTL 缓存条目默认有效期（7天）
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultCapacity 内存索引默认容量
	DefaultCapacity = 1000

	entrySuffix = ".json"
)

// Entry 一个切片的缓存转写结果
type Entry struct {
	Key         string                         `json:"key"`
	Text        string                         `json:"text"`
	Segments    []whisper.TranscriptionSegment `json:"segments,omitempty"`
	Language    string                         `json:"language,omitempty"`
	Transcriber string                         `json:"transcriber"`
	CreatedAt   time.Time                      `json:"created_at"`
	ExpiresAt   time.Time                      `json:"expires_at"`
}

// Stats 缓存命中统计
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Expired int64 `json:"expired"`
	Entries int   `json:"entries"`
}

// HitRate 命中率，无查询时为0
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ChunkCache 切片转写缓存：每个条目一个 JSON 文件，内存中维护 LRU 索引
type ChunkCache struct {
	mu       sync.Mutex
	dir      string
	ttl      time.Duration
	capacity int
	index    map[string]*list.Element
	lru      *list.List
	stats    Stats
	now      func() time.Time
}

// New 创建切片缓存，dir 不存在时自动创建
func New(dir string, ttl time.Duration, capacity int) (*ChunkCache, error) {
	if dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	return &ChunkCache{
		dir:      dir,
		ttl:      ttl,
		capacity: capacity,
		index:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}, nil
}

// KeyFor 计算切片的缓存键：sha256(大小, 起止时间, 模型, 语言, 完整文件内容)
func KeyFor(chunk segmenter.AudioChunk, model, language string) (string, error) {
	f, err := os.Open(chunk.Path)
	if err != nil {
		return "", fmt.Errorf("cache: open chunk: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	fmt.Fprintf(h, "%d|%.3f|%.3f|%s|%s|", chunk.SizeBytes, chunk.StartTime, chunk.EndTime, model, language)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("cache: read chunk: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get 查询缓存，过期条目在查询时删除
func (c *ChunkCache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		c.stats.Misses++
		metrics.RecordCacheLookup("miss")
		return nil, false
	}
	if c.now().After(entry.ExpiresAt) {
		c.removeLocked(key)
		c.stats.Expired++
		c.stats.Misses++
		metrics.RecordCacheLookup("expired")
		return nil, false
	}
	c.stats.Hits++
	metrics.RecordCacheLookup("hit")
	cp := *entry
	return &cp, true
}

// lookup 先查内存索引，未命中再读磁盘文件
func (c *ChunkCache) lookup(key string) (*Entry, bool) {
	if elem, ok := c.index[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*Entry), true
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key != key {
		_ = os.Remove(c.path(key))
		return nil, false
	}
	c.remember(&entry)
	return &entry, true
}

// Put 写入缓存条目并落盘
func (c *ChunkCache) Put(key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry.Key = key
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)

	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		return fmt.Errorf("cache: commit entry: %w", err)
	}
	c.remember(&entry)
	return nil
}

// remember 更新 LRU 索引，超出容量时淘汰最久未使用的条目（仅内存，文件保留）
func (c *ChunkCache) remember(entry *Entry) {
	if elem, ok := c.index[entry.Key]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return
	}
	if c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.index, oldest.Value.(*Entry).Key)
		}
	}
	c.index[entry.Key] = c.lru.PushFront(entry)
}

func (c *ChunkCache) removeLocked(key string) {
	if elem, ok := c.index[key]; ok {
		c.lru.Remove(elem)
		delete(c.index, key)
	}
	_ = os.Remove(c.path(key))
}

// CleanExpired 删除所有过期条目（包括仅存在于磁盘的），返回删除数量
func (c *ChunkCache) CleanExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), entrySuffix) {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil
		}
		var entry Entry
		if json.Unmarshal(data, &entry) != nil || now.After(entry.ExpiresAt) {
			c.removeLocked(strings.TrimSuffix(d.Name(), entrySuffix))
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cache: scan dir: %w", err)
	}
	return removed, nil
}

// Stats 返回统计快照
func (c *ChunkCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

func (c *ChunkCache) path(key string) string {
	return filepath.Join(c.dir, key+entrySuffix)
}
