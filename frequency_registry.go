package chanscan

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// FrequencyEntry is either a single RF frequency or an RF range, with
// lockout/priority/label metadata. Baseband fields are derived and
// recomputed on every SetCenter call.
type FrequencyEntry struct {
	// Exactly one of Single or (Lo, Hi) is set.
	Single   *float64 // MHz
	Lo, Hi   *float64 // MHz

	Label    string
	Locked   bool
	Priority *int // >= 1 when present

	// Derived baseband fields, Hz, signed. Valid once a center frequency
	// has been set on the owning registry.
	bbSingle   int64
	bbLo, bbHi int64
	bbValid    bool

	// Saved distinguishes configured entries (true) from entries added at
	// runtime through the UI (false), per spec.md FrequencyManager.add.
	Saved bool
}

func (e *FrequencyEntry) isSingle() bool { return e.Single != nil }

// validate checks the invariants of spec.md §3: mutual exclusivity of
// single/range, lo < hi, non-negative frequencies, priority >= 1.
func (e *FrequencyEntry) validate() error {
	hasSingle := e.Single != nil
	hasLo := e.Lo != nil
	hasHi := e.Hi != nil

	if !hasSingle && !hasLo && !hasHi {
		return fmt.Errorf("frequency entry must specify single or lo/hi")
	}
	if hasSingle && (hasLo || hasHi) {
		return fmt.Errorf("frequency entry cannot specify both single and a range")
	}
	if hasLo != hasHi {
		return fmt.Errorf("both lo and hi must be specified for a range")
	}
	if hasSingle && *e.Single < 0 {
		return fmt.Errorf("frequency must be non-negative, got %v", *e.Single)
	}
	if hasLo {
		if *e.Lo < 0 {
			return fmt.Errorf("frequency must be non-negative, got %v", *e.Lo)
		}
		if *e.Lo >= *e.Hi {
			return fmt.Errorf("range lo (%v) must be less than hi (%v)", *e.Lo, *e.Hi)
		}
	}
	if e.Priority != nil && *e.Priority < 1 {
		return fmt.Errorf("priority must be >= 1, got %d", *e.Priority)
	}
	return nil
}

// equal implements the identifying-field equality of spec.md §3: two
// entries are equal iff their Single values match, or both Lo and Hi
// match. Label/priority/locked are not part of identity.
func (e *FrequencyEntry) equal(other *FrequencyEntry) bool {
	if e.isSingle() && other.isSingle() {
		return *e.Single == *other.Single
	}
	if !e.isSingle() && !other.isSingle() {
		return *e.Lo == *other.Lo && *e.Hi == *other.Hi
	}
	return false
}

func (e *FrequencyEntry) describe() string {
	if e.isSingle() {
		return fmt.Sprintf("single=%.6f", *e.Single)
	}
	return fmt.Sprintf("lo=%.6f hi=%.6f", *e.Lo, *e.Hi)
}

func (e *FrequencyEntry) calculateBaseband(centerHz int64, spacing int64) {
	if e.isSingle() {
		e.bbSingle = frequencyToBaseband(*e.Single, centerHz, spacing)
	} else {
		e.bbLo = frequencyToBaseband(*e.Lo, centerHz, spacing)
		e.bbHi = frequencyToBaseband(*e.Hi, centerHz, spacing)
	}
	e.bbValid = true
}

func (e *FrequencyEntry) locksOut(bb int64) bool {
	if !e.Locked || !e.bbValid {
		return false
	}
	if e.isSingle() {
		return e.bbSingle == bb
	}
	return e.bbLo <= bb && bb <= e.bbHi
}

func (e *FrequencyEntry) priorityAt(bb int64) *int {
	if e.Priority == nil || !e.bbValid {
		return nil
	}
	if e.isSingle() {
		if e.bbSingle == bb {
			return e.Priority
		}
		return nil
	}
	if e.bbLo <= bb && bb <= e.bbHi {
		return e.Priority
	}
	return nil
}

// frequencyToBaseband implements bb = round((rf_hz - center)/spacing) * spacing.
func frequencyToBaseband(rfMHz float64, centerHz int64, spacing int64) int64 {
	rfHz := rfMHz * 1e6
	offset := rfHz - float64(centerHz)
	quantized := math.Round(offset/float64(spacing)) * float64(spacing)
	return int64(quantized)
}

// basebandToFrequency converts a quantized baseband offset back to an
// absolute RF frequency in MHz.
func basebandToFrequency(bb int64, centerHz int64) float64 {
	return float64(centerHz+bb) / 1e6
}

// frequencyConfigFile is the YAML document shape of §6.
type frequencyConfigFile struct {
	Frequencies []frequencyConfigEntry `yaml:"frequencies"`
}

type frequencyConfigEntry struct {
	Single   *float64 `yaml:"single"`
	Lo       *float64 `yaml:"lo"`
	Hi       *float64 `yaml:"hi"`
	Label    string   `yaml:"label"`
	Lockout  bool     `yaml:"lockout"`
	Priority *int     `yaml:"priority"`
}

func (c frequencyConfigEntry) toEntry() FrequencyEntry {
	return FrequencyEntry{
		Single:   c.Single,
		Lo:       c.Lo,
		Hi:       c.Hi,
		Label:    c.Label,
		Locked:   c.Lockout,
		Priority: c.Priority,
		Saved:    true,
	}
}

// FrequencyRegistry is the C1 component: the authority on what the user
// cares about, in both RF and baseband space.
type FrequencyRegistry struct {
	ChannelSpacing  int64
	DisableLockout  bool
	DisablePriority bool

	center     int64
	haveCenter bool
	entries    []*FrequencyEntry
}

// NewFrequencyRegistry constructs an empty registry for the given channel
// spacing (Hz).
func NewFrequencyRegistry(channelSpacing int64) *FrequencyRegistry {
	return &FrequencyRegistry{ChannelSpacing: channelSpacing}
}

// Load parses the frequency config file at path. A missing/empty path
// yields an empty list, not an error. A missing file is a ConfigError.
// Any entry violating the §3 invariants is a ConfigError and the
// registry's existing entries are left untouched.
func (r *FrequencyRegistry) Load(path string) error {
	if path == "" {
		r.entries = nil
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	var doc frequencyConfigFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	entries := make([]*FrequencyEntry, 0, len(doc.Frequencies))
	for i, raw := range doc.Frequencies {
		e := raw.toEntry()
		if err := e.validate(); err != nil {
			return &ConfigError{Path: path, Err: fmt.Errorf("entry %d: %w", i, err)}
		}
		for _, existing := range entries {
			if existing.equal(&e) {
				return &ConfigError{Path: path, Err: fmt.Errorf("entry %d: duplicate of an earlier entry", i)}
			}
		}
		if r.haveCenter {
			e.calculateBaseband(r.center, r.ChannelSpacing)
		}
		entries = append(entries, &e)
	}

	r.entries = entries
	return nil
}

// Add appends entry, rejecting duplicates (by identifying fields). Newly
// added entries are marked unsaved (Saved=false), distinguishing
// UI-runtime additions from configured ones.
func (r *FrequencyRegistry) Add(entry FrequencyEntry) error {
	if err := entry.validate(); err != nil {
		return &ConfigError{Err: err}
	}
	for _, existing := range r.entries {
		if existing.equal(&entry) {
			return &DuplicateEntryError{Entry: entry}
		}
	}
	entry.Saved = false
	if r.haveCenter {
		entry.calculateBaseband(r.center, r.ChannelSpacing)
	}
	r.entries = append(r.entries, &entry)
	return nil
}

// ChangeOptions controls Change's upsert behavior.
type ChangeOptions struct {
	// ModeAdd, when true, causes Change to Add the entry if no equal
	// entry is found instead of returning NotFoundError.
	ModeAdd bool
}

// Find returns a copy of the entry equal to want (by identifying fields),
// if one exists. Change overwrites Label/Priority/Locked wholesale from
// want, so a caller that only means to change one of those fields must
// call Find first and copy the untouched fields onto want itself
// (mirroring the source's dict-based partial update, expressed in Go as
// "set what you mean to change, reread the entry first").
func (r *FrequencyRegistry) Find(want FrequencyEntry) (FrequencyEntry, bool) {
	for _, existing := range r.entries {
		if existing.equal(&want) {
			return *existing, true
		}
	}
	return FrequencyEntry{}, false
}

// Change locates an entry equal to want (by identifying fields) and
// updates its mutable fields (Label, Priority, Locked) to want's values.
// This is a full overwrite of those three fields, not a per-field merge:
// callers that want to change only one of them must read the entry's
// current values with Find first and carry the rest forward on want.
func (r *FrequencyRegistry) Change(want FrequencyEntry, opts ChangeOptions) error {
	for _, existing := range r.entries {
		if existing.equal(&want) {
			existing.Label = want.Label
			existing.Priority = want.Priority
			existing.Locked = want.Locked
			return nil
		}
	}
	if opts.ModeAdd {
		return r.Add(want)
	}
	return &NotFoundError{Entry: want}
}

// Remove deletes the entry equal to want, if any. Used by the
// auto-priority feedback loop to retract a synthetic priority entry.
func (r *FrequencyRegistry) Remove(want FrequencyEntry) bool {
	for i, existing := range r.entries {
		if existing.equal(&want) {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// SetCenter recomputes every entry's baseband fields for the new hardware
// center frequency (Hz).
func (r *FrequencyRegistry) SetCenter(centerHz int64) {
	r.center = centerHz
	r.haveCenter = true
	for _, e := range r.entries {
		e.calculateBaseband(centerHz, r.ChannelSpacing)
	}
}

// LockedOut reports whether bb is covered by a locked entry. Always
// false when DisableLockout is set.
func (r *FrequencyRegistry) LockedOut(bb int64) bool {
	if r.DisableLockout {
		return false
	}
	for _, e := range r.entries {
		if e.locksOut(bb) {
			return true
		}
	}
	return false
}

// PriorityAt resolves the priority of bb: a matching single always wins
// over a matching range regardless of the range's priority number;
// otherwise the minimum priority among covering ranges; nil if nothing
// covers bb.
func (r *FrequencyRegistry) PriorityAt(bb int64) *int {
	var lowestRange *int
	for _, e := range r.entries {
		p := e.priorityAt(bb)
		if p == nil {
			continue
		}
		if e.isSingle() {
			v := *p
			return &v
		}
		if lowestRange == nil || *p < *lowestRange {
			v := *p
			lowestRange = &v
		}
	}
	return lowestRange
}

// IsHigherPriority reports whether channelBB should preempt whatever is
// tuned at demodBB. Always true when demodBB == 0 (idle slot). Always
// false when DisablePriority is set. Ties (equal priority numbers) are
// false.
func (r *FrequencyRegistry) IsHigherPriority(channelBB, demodBB int64) bool {
	if demodBB == 0 {
		return true
	}
	if r.DisablePriority {
		return false
	}
	channelPriority := r.PriorityAt(channelBB)
	if channelPriority == nil {
		return false
	}
	demodPriority := r.PriorityAt(demodBB)
	if demodPriority == nil {
		return true
	}
	return *channelPriority < *demodPriority
}

// LabelFor returns the single-match label if one exists, else the label
// of the last matching range (ranges should not overlap in well-formed
// configs; if they do, last match wins).
func (r *FrequencyRegistry) LabelFor(rfMHz float64) string {
	var rangeLabel string
	for _, e := range r.entries {
		if e.isSingle() {
			if *e.Single == rfMHz {
				return e.Label
			}
			continue
		}
		if *e.Lo <= rfMHz && rfMHz <= *e.Hi {
			rangeLabel = e.Label
		}
	}
	return rangeLabel
}

// Entries returns a snapshot of the current frequency list, for the UI
// lockout panel (C7).
func (r *FrequencyRegistry) Entries() []FrequencyEntry {
	out := make([]FrequencyEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}
