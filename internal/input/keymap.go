// Package input translates performer input tokens (console keys, MIDI note
// numbers, script cues) into archetype ids. It sits upstream of the engine
// and never reaches into it.
package input

import (
	"sort"
	"strconv"
	"sync"

	"ensemble/internal/logging"
)

// Keymap resolves key tokens and MIDI notes to archetype ids.
type Keymap struct {
	mu    sync.RWMutex
	keys  map[string]string
	notes map[int]string
}

// NewKeymap returns an empty keymap.
func NewKeymap() *Keymap {
	return &Keymap{
		keys:  make(map[string]string),
		notes: make(map[int]string),
	}
}

// DefaultKeymap binds the stock archetypes to the QWERTY top row and to the
// white keys of the C1 octave (MIDI 24-36).
func DefaultKeymap() *Keymap {
	k := NewKeymap()

	row := []string{"q", "w", "e", "r", "t", "y", "u", "i"}
	whites := []int{24, 26, 28, 29, 31, 33, 35, 36} // C D E F G A B C
	archetypes := []string{"beatles", "leadbelly", "tesla", "pranksters", "kesey", "cage", "hendrix", "moog"}

	for i, name := range archetypes {
		k.keys[row[i]] = name
		k.notes[whites[i]] = name
	}
	return k
}

// BindKey binds a console key token.
func (k *Keymap) BindKey(token, archetype string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[token] = archetype
}

// BindNote binds a MIDI note number. Out-of-range notes are ignored.
func (k *Keymap) BindNote(note int, archetype string) {
	if note < 0 || note > 127 {
		logging.InputDebug("ignoring binding for out-of-range note %d", note)
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.notes[note] = archetype
}

// ApplyOverrides merges config bindings. A token that parses as a MIDI note
// number binds that note; anything else binds a key token.
func (k *Keymap) ApplyOverrides(bindings map[string]string) {
	for token, archetype := range bindings {
		if n, err := strconv.Atoi(token); err == nil {
			k.BindNote(n, archetype)
			continue
		}
		k.BindKey(token, archetype)
	}
}

// Key resolves a console key token.
func (k *Keymap) Key(token string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	name, ok := k.keys[token]
	return name, ok
}

// Note resolves a MIDI note number. An unbound note falls back to its pitch
// class: any C triggers whatever the bound C triggers, one octave's bindings
// cover the whole keyboard.
func (k *Keymap) Note(note int) (string, bool) {
	if note < 0 || note > 127 {
		return "", false
	}

	k.mu.RLock()
	defer k.mu.RUnlock()

	if name, ok := k.notes[note]; ok {
		return name, true
	}

	pc := note % 12
	best := -1
	name := ""
	for bound, archetype := range k.notes {
		if bound%12 != pc {
			continue
		}
		// Lowest bound note wins so the fallback is stable
		if best == -1 || bound < best {
			best = bound
			name = archetype
		}
	}
	return name, best != -1
}

// Resolve maps any input token: a numeric token is a MIDI note, everything
// else is a key.
func (k *Keymap) Resolve(token string) (string, bool) {
	if n, err := strconv.Atoi(token); err == nil {
		return k.Note(n)
	}
	return k.Key(token)
}

// KeyBindings returns a copy of the key table.
func (k *Keymap) KeyBindings() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]string, len(k.keys))
	for token, name := range k.keys {
		out[token] = name
	}
	return out
}

// NoteBindings returns a copy of the note table.
func (k *Keymap) NoteBindings() map[int]string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[int]string, len(k.notes))
	for note, name := range k.notes {
		out[note] = name
	}
	return out
}

// BoundNotes returns the bound note numbers in ascending order.
func (k *Keymap) BoundNotes() []int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	notes := make([]int, 0, len(k.notes))
	for note := range k.notes {
		notes = append(notes, note)
	}
	sort.Ints(notes)
	return notes
}
