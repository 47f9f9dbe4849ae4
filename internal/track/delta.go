package track

import "sort"

// Delta is the outcome of comparing the live library against the stored
// snapshot. All three id lists are sorted.
type Delta struct {
	NewIDs     []string `json:"new_ids"`
	UpdatedIDs []string `json:"updated_ids"`
	RemovedIDs []string `json:"removed_ids"`
}

// IsEmpty reports whether the delta carries no ids at all.
func (d Delta) IsEmpty() bool {
	return len(d.NewIDs) == 0 && len(d.UpdatedIDs) == 0 && len(d.RemovedIDs) == 0
}

// HasUpdates reports whether any track was modified in place.
func (d Delta) HasUpdates() bool { return len(d.UpdatedIDs) > 0 }

// HasRemovals reports whether any track disappeared from the library.
func (d Delta) HasRemovals() bool { return len(d.RemovedIDs) > 0 }

// Total returns the number of ids across all three lists.
func (d Delta) Total() int {
	return len(d.NewIDs) + len(d.UpdatedIDs) + len(d.RemovedIDs)
}

// ComputeDelta compares live tracks against the stored projection.
//
// A track counts as updated when last_modified or date_added changed to a
// non-empty live value, or when track_status differs while both sides carry
// one. The status rule is asymmetric on purpose: the first run after a
// snapshot that predates status tracking would otherwise flag every track.
func ComputeDelta(live, stored []Track) Delta {
	liveByID := make(map[string]*Track, len(live))
	for i := range live {
		if live[i].ID == "" {
			continue
		}
		liveByID[live[i].ID] = &live[i]
	}
	storedByID := make(map[string]*Track, len(stored))
	for i := range stored {
		if stored[i].ID == "" {
			continue
		}
		storedByID[stored[i].ID] = &stored[i]
	}

	var delta Delta
	for id, lv := range liveByID {
		st, ok := storedByID[id]
		if !ok {
			delta.NewIDs = append(delta.NewIDs, id)
			continue
		}
		if trackModified(lv, st) {
			delta.UpdatedIDs = append(delta.UpdatedIDs, id)
		}
	}
	for id := range storedByID {
		if _, ok := liveByID[id]; !ok {
			delta.RemovedIDs = append(delta.RemovedIDs, id)
		}
	}

	sort.Strings(delta.NewIDs)
	sort.Strings(delta.UpdatedIDs)
	sort.Strings(delta.RemovedIDs)
	return delta
}

func trackModified(live, stored *Track) bool {
	if live.LastModified != "" && live.LastModified != stored.LastModified {
		return true
	}
	if live.DateAdded != "" && live.DateAdded != stored.DateAdded {
		return true
	}
	if live.TrackStatus != "" && stored.TrackStatus != "" && live.TrackStatus != stored.TrackStatus {
		return true
	}
	return false
}
