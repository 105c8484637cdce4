// Package feed fetches an RSS document over HTTP and turns it into a newest-first snapshot
// of items.
package feed

// Item is one entry of the polled feed.
type Item struct {
	ID       string // guid, stable across polls
	Title    string
	Link     string
	MediaURL string // enclosure url
}

// Snapshot is the ordered list of items returned by one fetch, newest first.
type Snapshot []Item

// IDs returns the item ids in snapshot order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s))
	for i, it := range s {
		ids[i] = it.ID
	}
	return ids
}
