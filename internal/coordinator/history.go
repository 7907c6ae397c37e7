package coordinator

import "sync"

// History is the ordered set of voucher IDs redeemed during this process.
// It only blocks repeat submissions from one scanner; the remote service is
// the authority on uniqueness.
type History struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{seen: make(map[string]struct{})}
}

// Add appends id and reports whether it was new.
func (h *History) Add(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[id]; ok {
		return false
	}
	h.seen[id] = struct{}{}
	h.order = append(h.order, id)
	return true
}

// Contains reports whether id was redeemed.
func (h *History) Contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.seen[id]
	return ok
}

// Len returns the number of redeemed IDs.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// IDs returns the redeemed IDs in redemption order.
func (h *History) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}
