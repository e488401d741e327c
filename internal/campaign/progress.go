package campaign

import "sync"

// ProgressEvent reports send progress after each batch.
type ProgressEvent struct {
	CampaignID string `json:"campaign_id"`
	Processed  int    `json:"processed"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
}

// ProgressNotifier fans progress events out to subscribers. Publishing is
// non-blocking by contract: when a subscriber's channel is full the event
// is dropped (drop-newest) so a slow observer can never stall the send
// loop. Subscribers always see the terminal event's numbers via the
// campaign status endpoint even if intermediate events were dropped.
type ProgressNotifier struct {
	mu   sync.Mutex
	subs map[chan ProgressEvent]struct{}
}

// NewProgressNotifier creates an empty notifier.
func NewProgressNotifier() *ProgressNotifier {
	return &ProgressNotifier{subs: make(map[chan ProgressEvent]struct{})}
}

// Subscribe registers a new observer with the given channel buffer.
func (n *ProgressNotifier) Subscribe(buffer int) chan ProgressEvent {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan ProgressEvent, buffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes an observer channel.
func (n *ProgressNotifier) Unsubscribe(ch chan ProgressEvent) {
	n.mu.Lock()
	if _, ok := n.subs[ch]; ok {
		delete(n.subs, ch)
		close(ch)
	}
	n.mu.Unlock()
}

// Publish delivers the event to every subscriber without blocking.
func (n *ProgressNotifier) Publish(ev ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full: drop this event.
		}
	}
}
