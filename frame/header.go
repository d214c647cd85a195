package frame

import (
	"strconv"
)

// Standard STOMP header names. Commands use upper-case; header names are
// lower-case tokens on the wire, so the constants hold the wire form.
const (
	AcceptVersion = "accept-version"
	Ack           = "ack"
	ContentLength = "content-length"
	ContentType   = "content-type"
	Destination   = "destination"
	HeartBeat     = "heart-beat"
	Host          = "host"
	Id            = "id"
	Login         = "login"
	Message       = "message"
	MessageId     = "message-id"
	Passcode      = "passcode"
	Receipt       = "receipt"
	ReceiptId     = "receipt-id"
	Server        = "server"
	Session       = "session"
	Subscription  = "subscription"
	Transaction   = "transaction"
	Version       = "version"

	// SuppressContentLength is not a wire header. When present in an
	// outbound frame it instructs the encoder to omit the automatic
	// content-length header (used for text bodies without NUL bytes) and
	// is stripped before serialization.
	SuppressContentLength = "suppress-content-length"
)

type entry struct {
	key, value string
}

// A Header is the ordered list of header entries of a STOMP frame.
//
// Iteration order is insertion order, which is also emission order for
// outbound frames. STOMP 1.1 and 1.2 permit repeated keys on inbound
// frames; in that case the first occurrence wins for Get, and the full
// multi-valued view remains available through GetAll.
type Header struct {
	entries []entry
}

// NewHeader creates a Header from alternating key, value strings. An odd
// trailing key gets an empty value.
func NewHeader(headerEntries ...string) *Header {
	h := &Header{}
	for i := 0; i+1 < len(headerEntries); i += 2 {
		h.Add(headerEntries[i], headerEntries[i+1])
	}
	if len(headerEntries)%2 != 0 {
		h.Add(headerEntries[len(headerEntries)-1], "")
	}
	return h
}

// Add appends the key, value pair, preserving any existing entries with the
// same key.
func (h *Header) Add(key, value string) {
	h.entries = append(h.entries, entry{key, value})
}

// Set replaces the first entry with the given key, or appends a new entry
// if the key is absent.
func (h *Header) Set(key, value string) {
	for i := range h.entries {
		if h.entries[i].key == key {
			h.entries[i].value = value
			return
		}
	}
	h.Add(key, value)
}

// Get returns the value of the first entry with the given key, or "".
func (h *Header) Get(key string) string {
	v, _ := h.Contains(key)
	return v
}

// Contains returns the first value for key and whether the key is present.
func (h *Header) Contains(key string) (value string, ok bool) {
	for i := range h.entries {
		if h.entries[i].key == key {
			return h.entries[i].value, true
		}
	}
	return "", false
}

// GetAll returns every value recorded for key, in order. The first element
// is the one Get returns.
func (h *Header) GetAll(key string) []string {
	var values []string
	for i := range h.entries {
		if h.entries[i].key == key {
			values = append(values, h.entries[i].value)
		}
	}
	return values
}

// GetAt returns the entry at index i. 0 <= i < Len(), panics otherwise.
func (h *Header) GetAt(i int) (key, value string) {
	return h.entries[i].key, h.entries[i].value
}

// Del removes every entry with the given key.
func (h *Header) Del(key string) {
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.key != key {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Len returns the number of header entries.
func (h *Header) Len() int {
	return len(h.entries)
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	hc := &Header{entries: make([]entry, len(h.entries))}
	copy(hc.entries, h.entries)
	return hc
}

// AddHeader appends every entry of other to h.
func (h *Header) AddHeader(other *Header) {
	if other != nil {
		h.entries = append(h.entries, other.entries...)
	}
}

// ContentLength parses the content-length entry. ok is false when the
// header is absent; err is non-nil when it is present but not a
// non-negative integer.
func (h *Header) ContentLength() (value int, ok bool, err error) {
	text, ok := h.Contains(ContentLength)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(text, 10, 31)
	if err != nil {
		return 0, true, ErrBadContentLength
	}
	return int(n), true, nil
}
