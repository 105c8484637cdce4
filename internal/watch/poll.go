// Package watch decides which feed items are new for a subscriber and drives their delivery
// on a per-subscriber timer.
package watch

import (
	"slices"
	"time"

	"github.com/ppiankov/rsspinger/internal/feed"
)

// State is the per-subscriber watch record. An empty LastSeenID means nothing has been
// seen yet; parsed items never carry an empty id, so it never matches.
type State struct {
	LastSeenID string
	Interval   time.Duration
}

// Poll returns the items of snap newer than st.LastSeenID, oldest first, together with the
// updated state. snap must be newest first. When nothing is new the state is returned as is.
func Poll(snap feed.Snapshot, st State) ([]feed.Item, State) {
	var fresh []feed.Item
	for _, it := range snap {
		if st.LastSeenID != "" && it.ID == st.LastSeenID {
			break
		}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return nil, st
	}

	st.LastSeenID = fresh[0].ID
	slices.Reverse(fresh)
	return fresh, st
}

// Prime marks the newest item of snap as seen without reporting anything. It only acts on a
// state that has not seen an item yet.
func Prime(snap feed.Snapshot, st State) State {
	if st.LastSeenID == "" && len(snap) > 0 {
		st.LastSeenID = snap[0].ID
	}
	return st
}
