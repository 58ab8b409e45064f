package download

import (
	"context"
	"fmt"
	nethttp "net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/handiism/tilefetch/internal/http"
	"github.com/handiism/tilefetch/internal/mainloop"
	"github.com/handiism/tilefetch/internal/metrics"
)

// Manager runs downloads with a concurrency limit and retries. All methods
// must be called on the loop goroutine; callbacks are invoked there too.
//
// Example usage:
//
//	manager := NewManager(loop, http.NewClient(), DefaultOptions())
//	manager.SetConcurrentDownloadLimit(4)
//	manager.SetQueueFinishedCallback(func() { log.Println("all done") })
//
//	for _, u := range urls {
//	    manager.StartAsyncDownload(u, nil, onComplete, onProgress, nil)
//	}
type Manager struct {
	loop   *mainloop.Loop
	client Opener

	tasks   []*task
	nextID  int
	running int

	maxDownloads     int
	connectTimeout   time.Duration
	shutdownTimeout  time.Duration
	retryLimit       int
	retryDelay       time.Duration
	priority         int
	progressInterval time.Duration
	blockSize        int

	queueFinished func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a manager whose downloads go through client and
// report back through loop.
func NewManager(loop *mainloop.Loop, client Opener, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		loop:             loop,
		client:           client,
		maxDownloads:     max(1, opts.MaxConcurrent),
		connectTimeout:   opts.ConnectTimeout,
		shutdownTimeout:  opts.ShutdownTimeout,
		retryLimit:       max(0, opts.RetryLimit),
		retryDelay:       max(0, opts.RetryDelay),
		priority:         opts.Priority,
		progressInterval: clampProgressInterval(opts.ProgressInterval),
		blockSize:        clampBlockSize(opts.BlockSize),
		ctx:              ctx,
		cancel:           cancel,
		logger: logger.With(
			zap.String("component", "download-manager"),
			zap.String("manager", uuid.NewString()),
		),
		metrics: opts.Metrics,
	}
}

// StartAsyncDownload queues a download and returns its id. A non-empty
// postData turns the request into a POST. headers may be nil, and so may
// onProgress. onComplete is called exactly once, on the loop goroutine.
func (m *Manager) StartAsyncDownload(url string, postData []byte, onComplete CompletionFunc, onProgress ProgressFunc, headers nethttp.Header) int {
	return m.Start(http.Request{URL: url, PostData: postData, Headers: headers}, onComplete, onProgress)
}

// Start is StartAsyncDownload for a prepared request.
func (m *Manager) Start(req http.Request, onComplete CompletionFunc, onProgress ProgressFunc) int {
	m.nextID++
	t := newTask(m.nextID, req, onComplete, onProgress)
	m.tasks = append(m.tasks, t)
	m.metrics.DownloadSubmitted()

	m.logger.Debug("Download queued", zap.Int("id", t.id), zap.String("url", req.URL))

	m.triggerNextDownload()
	return t.id
}

// CancelDownload cancels the download with the given id. Unknown ids and
// downloads that already finished are ignored.
func (m *Manager) CancelDownload(id int) {
	for _, t := range m.tasks {
		if t.id == id {
			m.cancelTask(t)
			return
		}
	}
}

// CancelAllDownloads cancels every active download.
func (m *Manager) CancelAllDownloads() {
	for _, t := range slices.Clone(m.tasks) {
		m.cancelTask(t)
	}
}

func (m *Manager) cancelTask(t *task) {
	if t.finished || !t.cancel() {
		return
	}

	m.logger.Debug("Download cancelled", zap.Int("id", t.id), zap.Bool("started", t.started))

	// A running worker posts its own completion after the next block.
	if !t.started {
		m.loop.Post(func() {
			m.finish(t)
		})
	}
}

// SetConcurrentDownloadLimit sets how many downloads may run at once.
// Values below 1 are treated as 1. Raising the limit starts waiting
// downloads right away.
func (m *Manager) SetConcurrentDownloadLimit(n int) {
	m.maxDownloads = max(1, n)
	m.triggerNextDownload()
}

// ConcurrentDownloadLimit returns the current concurrency limit.
func (m *Manager) ConcurrentDownloadLimit() int {
	return m.maxDownloads
}

// SetQueueFinishedCallback sets a function called whenever the last active
// download completes.
func (m *Manager) SetQueueFinishedCallback(fn func()) {
	m.queueFinished = fn
}

// SetConnectTimeout sets the time allowed until response headers arrive.
// It applies to downloads started afterwards.
func (m *Manager) SetConnectTimeout(d time.Duration) {
	m.connectTimeout = d
}

// SetRetryLimit sets the number of retries after the first attempt.
func (m *Manager) SetRetryLimit(n int) {
	m.retryLimit = max(0, n)
}

// SetRetryDelay sets the pause before each retry.
func (m *Manager) SetRetryDelay(d time.Duration) {
	m.retryDelay = max(0, d)
}

// SetThreadPriority records the priority for downloads started afterwards.
func (m *Manager) SetThreadPriority(p int) {
	m.priority = p
}

// SetProgressInterval sets the minimum time between progress callbacks of
// one download. Values below one millisecond are raised to it.
func (m *Manager) SetProgressInterval(d time.Duration) {
	m.progressInterval = clampProgressInterval(d)
}

// SetDownloadBlockSize sets the read size, clamped to [1, MaxBlockSize].
func (m *Manager) SetDownloadBlockSize(n int) {
	m.blockSize = clampBlockSize(n)
}

// BlockSize returns the current read size.
func (m *Manager) BlockSize() int {
	return m.blockSize
}

// ProgressInterval returns the current progress interval.
func (m *Manager) ProgressInterval() time.Duration {
	return m.progressInterval
}

// NumDownloads returns the number of downloads that have not completed,
// queued or running.
func (m *Manager) NumDownloads() int {
	return len(m.tasks)
}

// NumRunning returns the number of downloads currently running.
func (m *Manager) NumRunning() int {
	return m.running
}

// Shutdown cancels every download and waits for their goroutines, up to
// the shutdown timeout. Completions of the cancelled downloads are still
// delivered through the loop afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.CancelAllDownloads()
	m.cancel()

	if m.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.shutdownTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop downloads: %w", ctx.Err())
	}
}

// triggerNextDownload starts queued downloads, oldest first, while the
// concurrency limit allows.
func (m *Manager) triggerNextDownload() {
	for _, t := range m.tasks {
		if m.running >= m.maxDownloads {
			return
		}
		if t.started || t.isCancelled() {
			continue
		}
		m.startTask(t)
	}
}

func (m *Manager) startTask(t *task) {
	t.started = true
	m.running++
	m.metrics.SetDownloadsRunning(m.running)

	cfg := taskConfig{
		connectTimeout:   m.connectTimeout,
		retryLimit:       m.retryLimit,
		retryDelay:       m.retryDelay,
		blockSize:        m.blockSize,
		progressInterval: m.progressInterval,
	}

	m.logger.Debug("Download started",
		zap.Int("id", t.id),
		zap.String("url", t.req.URL),
		zap.Int("priority", m.priority),
	)

	progress := func(current, total, sinceLast int64) {
		m.loop.Post(func() {
			if t.finished || t.isCancelled() || t.onProgress == nil {
				return
			}
			t.onProgress(current, total, sinceLast)
		})
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t.run(m.ctx, m.client, cfg, m.metrics, progress)
		m.loop.Post(func() {
			m.finish(t)
		})
	}()
}

// finish delivers the completion of t and starts the next download.
func (m *Manager) finish(t *task) {
	if t.finished {
		return
	}
	t.finished = true

	result := t.result
	status := "ok"
	switch {
	case t.isCancelled():
		result = Result{URL: t.req.URL, ID: t.id, Attempts: result.Attempts, Cancelled: true, Err: errCancelled}
		status = "cancelled"
	case !result.OK:
		status = "failed"
	}
	m.metrics.DownloadDone(status)

	m.logger.Debug("Download finished",
		zap.Int("id", t.id),
		zap.String("result", status),
		zap.Int("attempts", result.Attempts),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", len(result.Data)),
		zap.Error(result.Err),
	)

	if t.onComplete != nil {
		t.onComplete(result)
	}

	m.tasks = slices.DeleteFunc(m.tasks, func(o *task) bool { return o == t })
	if t.started {
		m.running--
		m.metrics.SetDownloadsRunning(m.running)
	}

	m.triggerNextDownload()

	if len(m.tasks) == 0 && m.queueFinished != nil {
		m.queueFinished()
	}
}
