package chanscan

// UIChannelPane is the C7 projection of the scheduler's published
// channel list into what a terminal/web UI shows as "current channels":
// active-or-hanging entries only, with priority channels already sorted
// to the front by the Scheduler's enrich step (ham2mon's
// `[c for c in self.channels if c.active or c.hanging]`).
func UIChannelPane(channels []Channel) []Channel {
	out := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if c.Active || c.Hanging {
			out = append(out, c)
		}
	}
	return out
}

// LockoutPaneEntry is one row of the lockout/priority management panel:
// a configured or runtime frequency entry plus whether it currently has
// a tuned demodulator against it.
type LockoutPaneEntry struct {
	FrequencyEntry
	HasActivity bool
}

// LockoutPane projects the registry's entries alongside the scheduler's
// current channel list, flagging entries that overlap a currently
// active-or-hanging channel so the UI can show "in use" next to a
// lockout/priority row.
func LockoutPane(entries []FrequencyEntry, channels []Channel) []LockoutPaneEntry {
	activeBB := make(map[int64]struct{}, len(channels))
	for _, c := range channels {
		if c.Active || c.Hanging {
			activeBB[c.BB] = struct{}{}
		}
	}

	out := make([]LockoutPaneEntry, 0, len(entries))
	for _, e := range entries {
		has := false
		if e.isSingle() {
			if _, ok := activeBB[e.bbSingle]; ok && e.bbValid {
				has = true
			}
		} else if e.bbValid {
			for bb := range activeBB {
				if bb >= e.bbLo && bb <= e.bbHi {
					has = true
					break
				}
			}
		}
		out = append(out, LockoutPaneEntry{FrequencyEntry: e, HasActivity: has})
	}
	return out
}
