package tile

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/handiism/tilefetch/internal/mainloop"
	"github.com/handiism/tilefetch/internal/metrics"
	"github.com/handiism/tilefetch/internal/model"
)

var errFetch = errors.New("connection refused")

type fakeReply struct {
	data []byte
	err  error
}

type fakeCall struct {
	url   string
	reply chan fakeReply
}

// fakeFetcher blocks every Get until the test answers it.
type fakeFetcher struct {
	started chan *fakeCall

	mu        sync.Mutex
	urls      []string
	active    int32
	maxActive int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{started: make(chan *fakeCall, 64)}
}

func (f *fakeFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	f.urls = append(f.urls, url)
	if n > f.maxActive {
		f.maxActive = n
	}
	f.mu.Unlock()

	call := &fakeCall{url: url, reply: make(chan fakeReply, 1)}
	f.started <- call

	select {
	case r := <-call.reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeFetcher) next(t *testing.T) *fakeCall {
	t.Helper()
	select {
	case c := <-f.started:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no transport started")
		return nil
	}
}

func (f *fakeFetcher) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.started:
		t.Fatalf("unexpected transport for %s", c.url)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fakeFetcher) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.maxActive)
}

func (f *fakeFetcher) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

// settle waits until a worker has posted its result and runs it.
func settle(t *testing.T, loop *mainloop.Loop) {
	t.Helper()
	require.Eventually(t, func() bool { return loop.Len() > 0 }, 2*time.Second, time.Millisecond)
	loop.RunPending()
}

func pngTile(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, model.TileSize, model.TileSize))
	for y := 0; y < model.TileSize; y++ {
		for x := 0; x < model.TileSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testSource(t *testing.T, servers int) model.TileSource {
	t.Helper()
	src, err := model.NewSource(90, "test", "http://{s}.tiles.test/{z}/{x}/{y}.png", servers, "png")
	require.NoError(t, err)
	return src
}

type harness struct {
	loop    *mainloop.Loop
	fetcher *fakeFetcher
	coord   *Coordinator
	metrics *metrics.Metrics
	fetched []model.TileKey
}

func newHarness(t *testing.T, servers int) *harness {
	t.Helper()
	return newHarnessInDir(t, servers, t.TempDir())
}

func newHarnessInDir(t *testing.T, servers int, dir string) *harness {
	t.Helper()

	h := &harness{
		loop:    mainloop.New(),
		fetcher: newFakeFetcher(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	coord, err := NewCoordinator(h.loop, h.fetcher, Options{
		Source:   testSource(t, servers),
		CacheDir: dir,
		Metrics:  h.metrics,
	})
	require.NoError(t, err)
	h.coord = coord

	coord.AddListener(ListenerFunc(func(zoom, x, y int) {
		h.fetched = append(h.fetched, model.TileKey{Zoom: zoom, X: x, Y: y})
	}))

	t.Cleanup(func() {
		coord.Close()
		done := make(chan struct{})
		go func() { coord.Wait(); close(done) }()
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
				h.loop.RunPending()
			}
		}
	})

	return h
}
