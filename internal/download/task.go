package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/handiism/tilefetch/internal/http"
	"github.com/handiism/tilefetch/internal/metrics"
)

// UnknownTotal is reported as the total size when the server sent no
// Content-Length.
const UnknownTotal int64 = math.MaxInt64

var errCancelled = errors.New("download cancelled")

// Opener starts a streaming request. *http.Client from this module
// satisfies it.
type Opener interface {
	Open(ctx context.Context, req http.Request, connectTimeout time.Duration) (*nethttp.Response, error)
}

// CompletionFunc receives the final result of a download.
type CompletionFunc func(Result)

// ProgressFunc receives the bytes received so far, the expected total
// (UnknownTotal when the server did not say) and the bytes received since
// the previous report.
type ProgressFunc func(current, total, sinceLast int64)

// Result is the outcome of a download.
type Result struct {
	URL      string
	ID       int
	Attempts int

	// Data is the full body of the last attempt.
	Data []byte

	// OK is true when the last attempt answered 2xx and its body was read
	// completely.
	OK bool

	// StatusCode and Headers belong to the last response received. Both
	// are zero when no response arrived.
	StatusCode int
	Headers    nethttp.Header

	// Cancelled is set when the download was cancelled before it finished.
	// Data is then nil.
	Cancelled bool

	// Err describes why the last attempt failed.
	Err error
}

// taskConfig is the policy a task runs with, copied from the manager when
// the task starts.
type taskConfig struct {
	connectTimeout   time.Duration
	retryLimit       int
	retryDelay       time.Duration
	blockSize        int
	progressInterval time.Duration
}

// task is one download. Fields above the worker marker belong to the owner
// loop; result is written by the worker and read by the owner only after
// the completion has been posted.
type task struct {
	id         int
	req        http.Request
	onComplete CompletionFunc
	onProgress ProgressFunc

	started  bool
	finished bool

	// worker
	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once
	result     Result
}

func newTask(id int, req http.Request, onComplete CompletionFunc, onProgress ProgressFunc) *task {
	return &task{
		id:         id,
		req:        req,
		onComplete: onComplete,
		onProgress: onProgress,
		cancelCh:   make(chan struct{}),
		result:     Result{URL: req.URL, ID: id},
	}
}

// cancel marks the task cancelled and reports whether this call did it.
func (t *task) cancel() bool {
	if t.cancelled.Swap(true) {
		return false
	}
	t.cancelOnce.Do(func() { close(t.cancelCh) })
	return true
}

func (t *task) isCancelled() bool {
	return t.cancelled.Load()
}

// run performs the attempts of the task. progress is called on the worker
// goroutine and must hand the values over to the owner itself.
func (t *task) run(ctx context.Context, client Opener, cfg taskConfig, m *metrics.Metrics, progress ProgressFunc) {
	for {
		t.result.Attempts++

		retry, err := t.attempt(ctx, client, cfg, m, progress)
		t.result.Err = err
		if err == nil || !retry || t.isCancelled() {
			return
		}
		if t.result.Attempts > cfg.retryLimit {
			return
		}

		m.DownloadRetry()

		if cfg.retryDelay > 0 {
			timer := time.NewTimer(cfg.retryDelay)
			select {
			case <-timer.C:
			case <-t.cancelCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}

// attempt makes one request and reads its body. It reports whether a
// failure is worth retrying.
func (t *task) attempt(ctx context.Context, client Opener, cfg taskConfig, m *metrics.Metrics, progress ProgressFunc) (bool, error) {
	t.result.Data = nil
	t.result.OK = false
	t.result.StatusCode = 0
	t.result.Headers = nil

	if t.isCancelled() {
		return false, errCancelled
	}

	resp, err := client.Open(ctx, t.req, cfg.connectTimeout)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("failed to open %s: %w", t.req.URL, err)
	}
	defer resp.Body.Close()

	t.result.StatusCode = resp.StatusCode
	t.result.Headers = resp.Header

	total := resp.ContentLength
	if total < 0 {
		total = UnknownTotal
	}

	var buf bytes.Buffer
	lastReport := time.Now()
	var lastBytes int64

	pw := &http.ProgressWriter{
		Writer: &buf,
		Total:  total,
		OnUpdate: func(written, total int64) {
			if progress == nil || time.Since(lastReport) < cfg.progressInterval {
				return
			}
			progress(written, total, written-lastBytes)
			lastReport = time.Now()
			lastBytes = written
		},
	}

	block := make([]byte, cfg.blockSize)
	for {
		if t.isCancelled() {
			return false, errCancelled
		}

		n, rerr := readBlock(resp.Body, block)
		if n > 0 {
			_, _ = pw.Write(block[:n])
			m.DownloadReceived(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return ctx.Err() == nil, fmt.Errorf("failed to read body of %s: %w", t.req.URL, rerr)
		}
	}

	if progress != nil && pw.Written > lastBytes {
		progress(pw.Written, total, pw.Written-lastBytes)
	}

	t.result.Data = buf.Bytes()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &http.StatusError{Code: resp.StatusCode, Status: resp.Status}
		return serr.Temporary(), serr
	}

	t.result.OK = true
	return false, nil
}

// readBlock fills p from r. Unlike io.ReadFull it passes io.EOF through
// unchanged, so a clean end of body can be told apart from a truncated one.
func readBlock(r io.Reader, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := r.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
