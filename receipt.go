package stomp

import (
	"sync"

	"github.com/golang-io/stomp/frame"
)

// receipts tracks outbound frames that asked the broker for a receipt and
// have not seen the matching RECEIPT frame yet.
type receipts struct {
	mu   *sync.RWMutex
	maps map[string]*frame.Frame
}

func newReceipts() *receipts {
	return &receipts{
		mu:   new(sync.RWMutex),
		maps: make(map[string]*frame.Frame),
	}
}

// Put records an outbound frame awaiting the given receipt id.
func (r *receipts) Put(id string, f *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maps[id] = f
}

// Resolve removes and returns the frame awaiting id, if any.
func (r *receipts) Resolve(id string) (*frame.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.maps[id]
	if ok {
		delete(r.maps, id)
	}
	return f, ok
}

// Pending lists the receipt ids still outstanding.
func (r *receipts) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.maps))
	for id := range r.maps {
		ids = append(ids, id)
	}
	return ids
}
