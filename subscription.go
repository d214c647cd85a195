package stomp

import (
	"github.com/golang-io/stomp/frame"
)

// subscriptionList is the ordered registry of active subscriptions, keyed
// by subscription id. It has no lock of its own: every mutation and the
// replay walk happen under the connection's transmit mutex, so registry
// order and wire order cannot diverge.
type subscriptionList struct {
	order []string
	items map[string]*frame.Header
}

func newSubscriptionList() *subscriptionList {
	return &subscriptionList{items: make(map[string]*frame.Header)}
}

func (s *subscriptionList) contains(id string) bool {
	_, ok := s.items[id]
	return ok
}

func (s *subscriptionList) add(id string, h *frame.Header) {
	if _, ok := s.items[id]; !ok {
		s.order = append(s.order, id)
	}
	s.items[id] = h
}

func (s *subscriptionList) remove(id string) {
	if _, ok := s.items[id]; !ok {
		return
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// each walks the registry in insertion order.
func (s *subscriptionList) each(fn func(id string, h *frame.Header) error) error {
	for _, id := range s.order {
		if err := fn(id, s.items[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *subscriptionList) get(id string) (*frame.Header, bool) {
	h, ok := s.items[id]
	return h, ok
}

func (s *subscriptionList) len() int {
	return len(s.order)
}
