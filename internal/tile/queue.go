package tile

import (
	"github.com/handiism/tilefetch/internal/model"
)

// PendingRequest is a tile that missed the cache and waits for, or is
// being served by, a transport.
type PendingRequest struct {
	Key model.TileKey

	// Server is the reserved slot, or -1 while no transport runs.
	Server int

	transport *transport
}

// Started reports whether a transport has been started for the request.
func (r *PendingRequest) Started() bool {
	return r.transport != nil
}

// RequestQueue is an ordered set of pending tile requests with at most one
// entry per key. Not safe for concurrent use.
type RequestQueue struct {
	items []*PendingRequest
	index map[model.TileKey]*PendingRequest
}

// NewRequestQueue creates an empty queue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{
		index: make(map[model.TileKey]*PendingRequest),
	}
}

// Add appends a request for key. When a request with the same key is
// already queued it returns that request and false.
func (q *RequestQueue) Add(key model.TileKey) (*PendingRequest, bool) {
	if req, ok := q.index[key]; ok {
		return req, false
	}

	req := &PendingRequest{Key: key, Server: -1}
	q.items = append(q.items, req)
	q.index[key] = req
	return req, true
}

// Contains reports whether a request for key is queued.
func (q *RequestQueue) Contains(key model.TileKey) bool {
	_, ok := q.index[key]
	return ok
}

// Remove deletes req from the queue, keeping the order of the rest.
func (q *RequestQueue) Remove(req *PendingRequest) bool {
	if q.index[req.Key] != req {
		return false
	}
	delete(q.index, req.Key)

	for i, r := range q.items {
		if r == req {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return true
}

// NextIdle returns the oldest request without a transport, or nil.
func (q *RequestQueue) NextIdle() *PendingRequest {
	for _, r := range q.items {
		if r.transport == nil {
			return r
		}
	}
	return nil
}

// Drain empties the queue and returns its former contents in order.
func (q *RequestQueue) Drain() []*PendingRequest {
	items := q.items
	q.items = nil
	clear(q.index)
	return items
}

// Len returns the number of queued requests.
func (q *RequestQueue) Len() int { return len(q.items) }

// InFlight returns the number of queued requests with a running transport.
func (q *RequestQueue) InFlight() int {
	n := 0
	for _, r := range q.items {
		if r.transport != nil {
			n++
		}
	}
	return n
}
