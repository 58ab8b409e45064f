package tile

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	ioutils "github.com/handiism/tilefetch/internal/io"
	"github.com/handiism/tilefetch/internal/mainloop"
	"github.com/handiism/tilefetch/internal/metrics"
	"github.com/handiism/tilefetch/internal/model"
)

// Listener is told about every tile that arrived from the network.
type Listener interface {
	TileFetched(zoom, x, y int)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(zoom, x, y int)

// TileFetched calls f(zoom, x, y).
func (f ListenerFunc) TileFetched(zoom, x, y int) { f(zoom, x, y) }

// ListenerID identifies a registered listener.
type ListenerID int

type listenerEntry struct {
	id ListenerID
	l  Listener
}

// Options configures a Coordinator.
type Options struct {
	// Source is the initial tile source.
	Source model.TileSource

	// CacheDir holds the disk cache.
	CacheDir string

	// MaxMemoryTiles caps the memory cache. Zero means unbounded.
	MaxMemoryTiles int

	// FetchTimeout bounds a single transport. Zero means no limit.
	FetchTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Coordinator serves tiles from its cache and backfills misses from the
// network. All methods must be called on the loop goroutine.
type Coordinator struct {
	loop    *mainloop.Loop
	fetcher Fetcher
	source  model.TileSource

	queue     *RequestQueue
	slots     *SlotAllocator
	cache     *Cache
	cancelled map[*transport]struct{}

	listeners    []listenerEntry
	nextListener ListenerID

	placeholder   image.Image
	images        *ioutils.ImageService
	fetchTimeout  time.Duration
	nextTransport uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCoordinator creates a coordinator whose transports use fetcher and
// report back through loop.
func NewCoordinator(loop *mainloop.Loop, fetcher Fetcher, opts Options) (*Coordinator, error) {
	if opts.Source.Servers() == 0 {
		return nil, fmt.Errorf("tile source %q has no servers", opts.Source.Name)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := NewCache(opts.CacheDir, opts.MaxMemoryTiles, logger, opts.Metrics)
	if err != nil {
		return nil, err
	}

	images := ioutils.NewImageService()
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		loop:         loop,
		fetcher:      fetcher,
		source:       opts.Source,
		queue:        NewRequestQueue(),
		slots:        NewSlotAllocator(opts.Source.Servers()),
		cache:        cache,
		cancelled:    make(map[*transport]struct{}),
		placeholder:  images.Placeholder(model.TileSize, ioutils.PlaceholderColor),
		images:       images,
		fetchTimeout: opts.FetchTimeout,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With(zap.String("component", "tile-coordinator")),
		metrics:      opts.Metrics,
	}, nil
}

// FetchTile returns tile (zoom, x, y) of the current source, wrapping x and
// y onto the grid. It never waits for the network: on a cache miss it
// queues a request, unless one for the same tile is already queued, and
// returns the placeholder.
func (c *Coordinator) FetchTile(zoom, x, y int) image.Image {
	if !model.ValidZoom(zoom) {
		c.logger.Debug("Zoom out of range", zap.Int("zoom", zoom))
		return c.placeholder
	}

	key := model.NewTileKey(c.source, zoom, x, y)

	if tile, ok := c.cache.Get(key, c.source.Ext); ok {
		return tile.Image
	}

	if c.closed {
		return c.placeholder
	}

	if _, added := c.queue.Add(key); added {
		c.startNextTransport()
	}

	return c.placeholder
}

// Placeholder returns the image FetchTile hands out on a miss.
func (c *Coordinator) Placeholder() image.Image {
	return c.placeholder
}

// ClearQueue abandons every queued request and frees every server slot.
// Transports already running finish on their own, but their results are
// thrown away.
func (c *Coordinator) ClearQueue() {
	dropped := 0
	for _, req := range c.queue.Drain() {
		if req.transport != nil {
			c.cancelled[req.transport] = struct{}{}
		}
		dropped++
	}
	c.slots.Reset()

	if dropped > 0 {
		c.logger.Debug("Tile queue cleared", zap.Int("dropped", dropped), zap.Int("discarding", len(c.cancelled)))
	}
}

// SetTileSource switches to another source. Queued requests for the old
// source are abandoned; cached tiles of both sources are kept apart by
// their keys.
func (c *Coordinator) SetTileSource(source model.TileSource) error {
	if source.Servers() == 0 {
		return fmt.Errorf("tile source %q has no servers", source.Name)
	}

	c.ClearQueue()
	c.source = source
	c.slots.Resize(source.Servers())

	c.logger.Info("Tile source changed", zap.String("source", source.Name), zap.Int("servers", source.Servers()))
	return nil
}

// Source returns the current tile source.
func (c *Coordinator) Source() model.TileSource {
	return c.source
}

// AddListener registers l and returns a handle for RemoveListener.
func (c *Coordinator) AddListener(l Listener) ListenerID {
	c.nextListener++
	c.listeners = append(c.listeners, listenerEntry{id: c.nextListener, l: l})
	return c.nextListener
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (c *Coordinator) RemoveListener(id ListenerID) {
	for i, e := range c.listeners {
		if e.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// Pending returns the number of queued requests, running or not.
func (c *Coordinator) Pending() int {
	return c.queue.Len()
}

// InFlight returns the number of running transports whose result will be
// used.
func (c *Coordinator) InFlight() int {
	return c.queue.InFlight()
}

// Cache returns the tile cache.
func (c *Coordinator) Cache() *Cache {
	return c.cache
}

// Close abandons all requests and aborts running transports. Cached tiles
// remain readable through FetchTile, but no new transports start.
func (c *Coordinator) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.ClearQueue()
	c.cancel()
}

// Wait blocks until every transport goroutine has returned. It must not be
// called on the loop goroutine while transports still need the loop.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// startNextTransport starts transports for the oldest idle requests while
// server slots are free.
func (c *Coordinator) startNextTransport() {
	for !c.closed {
		req := c.queue.NextIdle()
		if req == nil {
			return
		}

		server, ok := c.slots.Acquire()
		if !ok {
			return
		}

		c.nextTransport++
		t := &transport{
			id:  c.nextTransport,
			url: c.source.URL(server, req.Key.Zoom, req.Key.X, req.Key.Y),
			req: req,
		}
		req.Server = server
		req.transport = t

		c.metrics.TransportStarted()
		c.logger.Debug("Tile transport started",
			zap.Uint64("transport", t.id),
			zap.String("url", t.url),
			zap.Int("server", server),
		)

		t.start(c.ctx, c.fetchTimeout, c.fetcher, c.loop, &c.wg, c.onTransportComplete)
	}
}

// onTransportComplete runs on the loop when a transport finishes.
func (c *Coordinator) onTransportComplete(t *transport, data []byte, err error) {
	if _, ok := c.cancelled[t]; ok {
		delete(c.cancelled, t)
		c.metrics.TransportDone("discarded")
		c.logger.Debug("Discarded abandoned tile transport", zap.Uint64("transport", t.id))
		c.startNextTransport()
		return
	}

	req := t.req
	c.slots.Release(req.Server)
	req.Server = -1
	c.queue.Remove(req)

	key := req.Key
	switch {
	case err != nil:
		c.metrics.TransportDone("failed")
		c.logger.Debug("Tile fetch failed", zap.String("url", t.url), zap.Error(err))

	default:
		img, decodeErr := c.images.Decode(data)
		if decodeErr != nil {
			c.metrics.TransportDone("invalid")
			c.logger.Debug("Tile is not an image", zap.String("url", t.url), zap.Error(decodeErr))
			break
		}

		if storeErr := c.cache.Store(key, c.source.Ext, img, data); storeErr != nil {
			c.logger.Warn("Failed to persist tile", zap.Error(storeErr))
		}
		c.metrics.TransportDone("ok")
		c.notify(key)
	}

	c.startNextTransport()
}

func (c *Coordinator) notify(key model.TileKey) {
	listeners := append([]listenerEntry(nil), c.listeners...)
	for _, e := range listeners {
		e.l.TileFetched(key.Zoom, key.X, key.Y)
	}
}
