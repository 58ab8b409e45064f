package tile

import (
	"container/list"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	ioutils "github.com/handiism/tilefetch/internal/io"
	"github.com/handiism/tilefetch/internal/metrics"
	"github.com/handiism/tilefetch/internal/model"
)

type cacheEntry struct {
	key model.TileKey
	img image.Image
}

// Cache keeps decoded tiles in memory and their raw bytes on disk.
//
// Disk layout: {dir}/{source}-{zoom}-{x}-{y}.{ext}. File names are derived
// from the key alone, so a fresh process finds earlier tiles without an
// index.
//
// The memory tier is unbounded unless maxMemory is positive, in which case
// the least recently used tile is evicted first. Evicted tiles stay on
// disk. Not safe for concurrent use.
type Cache struct {
	dir       string
	maxMemory int
	items     map[model.TileKey]*list.Element
	lruList   *list.List
	images    *ioutils.ImageService
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewCache creates the cache directory if needed and returns an empty
// memory cache on top of it.
func NewCache(dir string, maxMemory int, logger *zap.Logger, m *metrics.Metrics) (*Cache, error) {
	if err := ioutils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create tile cache directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		dir:       dir,
		maxMemory: maxMemory,
		items:     make(map[model.TileKey]*list.Element),
		lruList:   list.New(),
		images:    ioutils.NewImageService(),
		logger:    logger,
		metrics:   m,
	}, nil
}

// Dir returns the disk tier directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the file that holds key on disk.
func (c *Cache) Path(key model.TileKey, ext string) string {
	return filepath.Join(c.dir, key.FileName(ext))
}

// Get looks key up in memory, then on disk. A disk hit is decoded and
// promoted into memory. A missing or undecodable file is a miss.
func (c *Cache) Get(key model.TileKey, ext string) (model.CachedTile, bool) {
	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		c.metrics.CacheHit(model.OriginMemory.String())
		return model.CachedTile{Key: key, Image: elem.Value.(*cacheEntry).img, Origin: model.OriginMemory}, true
	}

	path := c.Path(key, ext)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("Tile file unreadable", zap.String("path", path), zap.Error(err))
		}
		c.metrics.CacheMiss()
		return model.CachedTile{}, false
	}

	img, err := c.images.Decode(data)
	if err != nil {
		c.logger.Debug("Tile file undecodable", zap.String("path", path), zap.Error(err))
		c.metrics.CacheMiss()
		return model.CachedTile{}, false
	}

	c.setMemory(key, img)
	c.metrics.CacheHit(model.OriginDisk.String())
	return model.CachedTile{Key: key, Image: img, Origin: model.OriginDisk}, true
}

// Store puts img into memory and writes data, its encoded form, to disk.
// The memory tier is updated even when the disk write fails.
func (c *Cache) Store(key model.TileKey, ext string, img image.Image, data []byte) error {
	c.setMemory(key, img)

	if err := ioutils.WriteFileAtomic(c.Path(key, ext), data); err != nil {
		return fmt.Errorf("failed to write tile %s: %w", key, err)
	}
	return nil
}

// Len returns the number of tiles in memory.
func (c *Cache) Len() int { return c.lruList.Len() }

// Clear empties the memory tier. Files on disk are kept.
func (c *Cache) Clear() {
	c.items = make(map[model.TileKey]*list.Element)
	c.lruList = list.New()
	c.metrics.SetMemoryItems(0)
}

func (c *Cache) setMemory(key model.TileKey, img image.Image) {
	defer func() { c.metrics.SetMemoryItems(c.lruList.Len()) }()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).img = img
		c.lruList.MoveToFront(elem)
		return
	}

	if c.maxMemory > 0 && c.lruList.Len() >= c.maxMemory {
		if oldest := c.lruList.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*cacheEntry).key)
			c.lruList.Remove(oldest)
		}
	}

	c.items[key] = c.lruList.PushFront(&cacheEntry{key: key, img: img})
}
