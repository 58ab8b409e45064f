package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/tilefetch/internal/http"
	"github.com/handiism/tilefetch/internal/mainloop"
)

type recorder struct {
	mu       sync.Mutex
	results map[int][]Result
	reports [][3]int64
}

func newRecorder() *recorder {
	return &recorder{
		results: make(map[int][]Result),
	}
}

func (r *recorder) complete(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.ID] = append(r.results[res.ID], res)
}

func (r *recorder) progress(current, total, sinceLast int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, [3]int64{current, total, sinceLast})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rs := range r.results {
		n += len(rs)
	}
	return n
}

func (r *recorder) result(t *testing.T, id int) Result {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.results[id], 1, "download %d must complete exactly once", id)
	return r.results[id][0]
}

func (r *recorder) done(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results[id]) > 0
}

func newTestManager(t *testing.T, configure func(*Options)) (*Manager, *mainloop.Loop) {
	t.Helper()

	opts := DefaultOptions()
	opts.ProgressInterval = time.Millisecond
	opts.ShutdownTimeout = 2 * time.Second
	if configure != nil {
		configure(&opts)
	}

	loop := mainloop.New()
	m := NewManager(loop, http.NewClient(), opts)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
		loop.RunPending()
	})
	return m, loop
}

// pump runs the loop until cond holds.
func pump(t *testing.T, loop *mainloop.Loop, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		loop.RunPending()
		return cond()
	}, 5*time.Second, time.Millisecond)
}

// blockingServer answers every request only after release is closed.
type blockingServer struct {
	*httptest.Server
	arrived atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32
	release chan struct{}
	once    sync.Once
}

func newBlockingServer(t *testing.T) *blockingServer {
	t.Helper()
	s := &blockingServer{release: make(chan struct{})}
	s.Server = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		s.arrived.Add(1)
		n := s.active.Add(1)
		defer s.active.Add(-1)
		for {
			p := s.peak.Load()
			if n <= p || s.peak.CompareAndSwap(p, n) {
				break
			}
		}

		select {
		case <-s.release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	t.Cleanup(func() {
		s.unblock()
		s.Close()
	})
	return s
}

func (s *blockingServer) unblock() {
	s.once.Do(func() { close(s.release) })
}

func TestManager_DownloadSuccess(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("X-Test", "yes")
		fmt.Fprint(w, "hello world")
	}))
	defer srv.Close()

	m, loop := newTestManager(t, nil)
	rec := newRecorder()

	var finished int
	m.SetQueueFinishedCallback(func() { finished++ })

	id := m.StartAsyncDownload(srv.URL+"/file", nil, rec.complete, nil, nil)
	assert.Equal(t, 1, m.NumDownloads())

	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	assert.True(t, res.OK)
	assert.False(t, res.Cancelled)
	assert.NoError(t, res.Err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, srv.URL+"/file", res.URL)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, nethttp.StatusOK, res.StatusCode)
	assert.Equal(t, "yes", res.Headers.Get("X-Test"))
	assert.Equal(t, "hello world", string(res.Data))

	assert.Equal(t, 1, finished)
	assert.Equal(t, 0, m.NumDownloads())
	assert.Equal(t, 0, m.NumRunning())
}

func TestManager_IdsAreUnique(t *testing.T) {
	m, _ := newTestManager(t, func(o *Options) { o.MaxConcurrent = 1 })
	srv := newBlockingServer(t)

	seen := make(map[int]bool)
	for n := 0; n < 5; n++ {
		id := m.StartAsyncDownload(srv.URL, nil, nil, nil, nil)
		assert.False(t, seen[id], "id %d handed out twice", id)
		seen[id] = true
	}
}

func TestManager_PostDataAndHeaders(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s|%s|%s", r.Method, r.Header.Get("X-Token"), body)
	}))
	defer srv.Close()

	m, loop := newTestManager(t, nil)
	rec := newRecorder()

	headers := nethttp.Header{}
	headers.Set("X-Token", "secret")

	id := m.StartAsyncDownload(srv.URL, []byte("a=1"), rec.complete, nil, headers)
	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	require.True(t, res.OK)
	assert.Equal(t, "POST|secret|a=1", string(res.Data))
}

func TestManager_RespectsConcurrencyLimit(t *testing.T) {
	srv := newBlockingServer(t)
	m, loop := newTestManager(t, func(o *Options) { o.MaxConcurrent = 2 })
	rec := newRecorder()

	var ids []int
	for i := 0; i < 6; i++ {
		ids = append(ids, m.StartAsyncDownload(fmt.Sprintf("%s/%d", srv.URL, i), nil, rec.complete, nil, nil))
	}

	pump(t, loop, func() bool { return srv.arrived.Load() == 2 })
	assert.Equal(t, 2, m.NumRunning())
	assert.Equal(t, 6, m.NumDownloads())

	time.Sleep(50 * time.Millisecond)
	loop.RunPending()
	assert.EqualValues(t, 2, srv.arrived.Load())

	srv.unblock()
	pump(t, loop, func() bool { return rec.count() == 6 })

	assert.LessOrEqual(t, srv.peak.Load(), int32(2))
	for i, id := range ids {
		res := rec.result(t, id)
		assert.True(t, res.OK)
		assert.Equal(t, fmt.Sprintf("/%d", i), string(res.Data))
	}
	assert.Equal(t, 0, m.NumRunning())
}

func TestManager_RaisingLimitStartsWaitingDownloads(t *testing.T) {
	srv := newBlockingServer(t)
	m, loop := newTestManager(t, func(o *Options) { o.MaxConcurrent = 1 })

	m.StartAsyncDownload(srv.URL, nil, nil, nil, nil)
	m.StartAsyncDownload(srv.URL, nil, nil, nil, nil)
	m.StartAsyncDownload(srv.URL, nil, nil, nil, nil)

	pump(t, loop, func() bool { return srv.arrived.Load() == 1 })
	assert.Equal(t, 1, m.NumRunning())

	m.SetConcurrentDownloadLimit(3)
	assert.Equal(t, 3, m.NumRunning())
	pump(t, loop, func() bool { return srv.arrived.Load() == 3 })

	m.SetConcurrentDownloadLimit(0)
	assert.Equal(t, 1, m.ConcurrentDownloadLimit())
}

func TestManager_RetriesUntilLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		hits.Add(1)
		w.WriteHeader(nethttp.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) {
		o.RetryLimit = 2
		o.RetryDelay = 20 * time.Millisecond
	})
	rec := newRecorder()

	start := time.Now()
	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return rec.done(id) })
	elapsed := time.Since(start)

	res := rec.result(t, id)
	assert.False(t, res.OK)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, nethttp.StatusServiceUnavailable, res.StatusCode)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)

	var statusErr *http.StatusError
	require.True(t, errors.As(res.Err, &statusErr))
	assert.True(t, statusErr.Temporary())
}

func TestManager_RetrySucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(nethttp.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) { o.RetryLimit = 5 })
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "finally", string(res.Data))
	assert.NoError(t, res.Err)
}

func TestManager_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		hits.Add(1)
		nethttp.NotFound(w, r)
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) { o.RetryLimit = 3 })
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	assert.False(t, res.OK)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, nethttp.StatusNotFound, res.StatusCode)
	assert.Error(t, res.Err)
}

func TestManager_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(nethttp.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m, loop := newTestManager(t, func(o *Options) { o.RetryLimit = 1 })
	rec := newRecorder()

	id := m.StartAsyncDownload(url, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	assert.False(t, res.OK)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 0, res.StatusCode)
	assert.Nil(t, res.Data)
	assert.Error(t, res.Err)
}

func TestManager_ConnectTimeout(t *testing.T) {
	srv := newBlockingServer(t)
	m, loop := newTestManager(t, func(o *Options) { o.ConnectTimeout = 30 * time.Millisecond })
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, http.ErrConnectTimeout)
}

func TestManager_CancelQueued(t *testing.T) {
	srv := newBlockingServer(t)
	m, loop := newTestManager(t, func(o *Options) { o.MaxConcurrent = 1 })
	rec := newRecorder()

	first := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	second := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return srv.arrived.Load() == 1 })

	m.CancelDownload(second)
	m.CancelDownload(second)
	pump(t, loop, func() bool { return rec.done(second) })

	res := rec.result(t, second)
	assert.True(t, res.Cancelled)
	assert.False(t, res.OK)
	assert.Nil(t, res.Data)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 1, m.NumRunning())
	assert.False(t, rec.done(first))

	srv.unblock()
	pump(t, loop, func() bool { return rec.done(first) })
	assert.True(t, rec.result(t, first).OK)
	assert.EqualValues(t, 1, srv.arrived.Load())
}

func TestManager_CancelRunning(t *testing.T) {
	wrote := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Write([]byte("0123456789"))
		w.(nethttp.Flusher).Flush()
		close(wrote)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte("abcdefghij"))
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) { o.BlockSize = 4 })
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	<-wrote

	loop.RunPending()
	m.CancelDownload(id)
	close(release)

	pump(t, loop, func() bool { return rec.done(id) })

	res := rec.result(t, id)
	assert.True(t, res.Cancelled)
	assert.False(t, res.OK)
	assert.Nil(t, res.Data)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 0, m.NumDownloads())
	assert.Equal(t, 0, m.NumRunning())

	time.Sleep(20 * time.Millisecond)
	loop.RunPending()
	rec.result(t, id)
}

func TestManager_CancelUnknownIsNoop(t *testing.T) {
	m, loop := newTestManager(t, nil)
	m.CancelDownload(42)
	assert.Equal(t, 0, loop.RunPending())
	assert.Equal(t, 0, m.NumDownloads())
}

func TestManager_CancelAll(t *testing.T) {
	srv := newBlockingServer(t)
	m, loop := newTestManager(t, func(o *Options) { o.MaxConcurrent = 1 })
	rec := newRecorder()

	var finished int
	m.SetQueueFinishedCallback(func() { finished++ })

	ids := []int{
		m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil),
		m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil),
		m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil),
	}
	pump(t, loop, func() bool { return srv.arrived.Load() == 1 })

	m.CancelAllDownloads()
	srv.unblock()
	pump(t, loop, func() bool { return rec.count() == 3 })

	for _, id := range ids {
		assert.True(t, rec.result(t, id).Cancelled)
	}
	assert.Equal(t, 1, finished)
	assert.EqualValues(t, 1, srv.arrived.Load())
}

func TestManager_ProgressKnownTotal(t *testing.T) {
	body := make([]byte, 10000)
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) { o.BlockSize = 1000 })
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, rec.progress, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	reports := rec.reports
	require.NotEmpty(t, reports)

	var sum int64
	for _, p := range reports {
		assert.EqualValues(t, len(body), p[1])
		sum += p[2]
	}
	assert.EqualValues(t, len(body), sum)
	assert.EqualValues(t, len(body), reports[len(reports)-1][0])
}

func TestManager_ProgressUnknownTotal(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		for n := 0; n < 5; n++ {
			w.Write([]byte("chunk"))
			w.(nethttp.Flusher).Flush()
		}
	}))
	defer srv.Close()

	m, loop := newTestManager(t, nil)
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, rec.progress, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	assert.Equal(t, "chunkchunkchunkchunkchunk", string(rec.result(t, id).Data))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	reports := rec.reports
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.EqualValues(t, 25, last[0])
	assert.Equal(t, UnknownTotal, last[1])
}

func TestManager_ProgressIsThrottled(t *testing.T) {
	body := make([]byte, 50000)
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) {
		o.BlockSize = 1
		o.ProgressInterval = time.Hour
	})
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, rec.progress, nil)
	pump(t, loop, func() bool { return rec.done(id) })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// Only the final report gets through.
	require.Len(t, rec.reports, 1)
	assert.EqualValues(t, len(body), rec.reports[0][0])
}

func TestManager_Setters(t *testing.T) {
	m, _ := newTestManager(t, nil)

	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero", 0, 1},
		{"negative", -5, 1},
		{"in range", 4096, 4096},
		{"max", MaxBlockSize, MaxBlockSize},
		{"too large", 1_000_000, MaxBlockSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.SetDownloadBlockSize(tt.in)
			assert.Equal(t, tt.want, m.BlockSize())
		})
	}

	m.SetProgressInterval(0)
	assert.Equal(t, time.Millisecond, m.ProgressInterval())
	m.SetProgressInterval(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, m.ProgressInterval())
}

func TestManager_CallbacksRunOnLoop(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Write(make([]byte, 5000))
	}))
	defer srv.Close()

	m, loop := newTestManager(t, func(o *Options) {
		o.BlockSize = 100
		o.MaxConcurrent = 3
	})

	var draining, outside, inside atomic.Int32
	check := func() {
		if draining.Load() == 1 {
			inside.Add(1)
		} else {
			outside.Add(1)
		}
	}

	done := 0
	for n := 0; n < 6; n++ {
		m.StartAsyncDownload(srv.URL, nil,
			func(Result) { check(); done++ },
			func(int64, int64, int64) { check() },
			nil,
		)
	}

	require.Eventually(t, func() bool {
		draining.Store(1)
		loop.RunPending()
		draining.Store(0)
		return done == 6
	}, 5*time.Second, time.Millisecond)

	assert.Zero(t, outside.Load())
	assert.Positive(t, inside.Load())
}

func TestManager_QueueFinishedWaitsForChainedDownloads(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	m, loop := newTestManager(t, nil)

	var finished, completed int
	m.SetQueueFinishedCallback(func() { finished++ })

	var chain CompletionFunc
	chain = func(Result) {
		completed++
		if completed < 3 {
			m.StartAsyncDownload(srv.URL, nil, chain, nil, nil)
		}
	}
	m.StartAsyncDownload(srv.URL, nil, chain, nil, nil)

	pump(t, loop, func() bool { return finished > 0 })
	assert.Equal(t, 3, completed)
	assert.Equal(t, 1, finished)
}

func TestManager_Shutdown(t *testing.T) {
	srv := newBlockingServer(t)
	m, loop := newTestManager(t, nil)
	rec := newRecorder()

	id := m.StartAsyncDownload(srv.URL, nil, rec.complete, nil, nil)
	pump(t, loop, func() bool { return srv.arrived.Load() == 1 })

	require.NoError(t, m.Shutdown(context.Background()))

	pump(t, loop, func() bool { return rec.done(id) })
	assert.True(t, rec.result(t, id).Cancelled)
	assert.Equal(t, 0, m.NumDownloads())
}
