package tile

// SlotAllocator tracks which logical servers of a tile source are busy.
// Not safe for concurrent use.
type SlotAllocator struct {
	inUse []bool
	used  int
}

// NewSlotAllocator creates an allocator for n servers.
func NewSlotAllocator(n int) *SlotAllocator {
	if n < 0 {
		n = 0
	}
	return &SlotAllocator{inUse: make([]bool, n)}
}

// Acquire reserves the lowest free server index. ok is false when every
// server is busy.
func (a *SlotAllocator) Acquire() (server int, ok bool) {
	for i, busy := range a.inUse {
		if !busy {
			a.inUse[i] = true
			a.used++
			return i, true
		}
	}
	return -1, false
}

// Release frees a server index. It reports false, and does nothing, when
// the index is not currently reserved.
func (a *SlotAllocator) Release(server int) bool {
	if server < 0 || server >= len(a.inUse) || !a.inUse[server] {
		return false
	}
	a.inUse[server] = false
	a.used--
	return true
}

// Reset frees every server.
func (a *SlotAllocator) Reset() {
	clear(a.inUse)
	a.used = 0
}

// Resize frees every server and changes the server count.
func (a *SlotAllocator) Resize(n int) {
	if n < 0 {
		n = 0
	}
	a.inUse = make([]bool, n)
	a.used = 0
}

// Servers returns the number of servers.
func (a *SlotAllocator) Servers() int { return len(a.inUse) }

// InUse returns the number of reserved servers.
func (a *SlotAllocator) InUse() int { return a.used }

// Free returns the number of servers available.
func (a *SlotAllocator) Free() int { return len(a.inUse) - a.used }
