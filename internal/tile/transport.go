package tile

import (
	"context"
	"sync"
	"time"

	"github.com/handiism/tilefetch/internal/mainloop"
)

// Fetcher retrieves the body of a URL. *http.Client from this module
// satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// transport is one background fetch of one tile. The worker goroutine only
// touches its own locals; the result reaches the coordinator through the
// loop.
type transport struct {
	id  uint64
	url string
	req *PendingRequest
}

type transportDone func(t *transport, data []byte, err error)

// start runs the fetch on a new goroutine and posts done to loop when it
// finishes. wg tracks the goroutine.
func (t *transport) start(ctx context.Context, timeout time.Duration, fetcher Fetcher, loop *mainloop.Loop, wg *sync.WaitGroup, done transportDone) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		fetchCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		data, err := fetcher.Get(fetchCtx, t.url)
		loop.Post(func() {
			done(t, data, err)
		})
	}()
}
