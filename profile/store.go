// Package profile stores captured driver configurations keyed by
// printer name and print format.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/boothworks/printfleet/print"
)

// ErrNotFound is returned when no profile was captured for a
// printer+format pair. Callers fall back to the printer's current OS
// driver state and flag the job as having unverified alignment.
var ErrNotFound = errors.New("driver profile not found")

// Store is the driver profile store. Writes are atomic: a concurrent Get
// sees either the old profile or the new one, never a partial write.
type Store interface {
	Get(printer string, format print.Format) (print.Profile, error)
	Set(p print.Profile) error
	Delete(printer string, format print.Format) error
	List() []print.Profile
}

// MemStore is the in-memory Store. It backs the replicated state machine
// and is also used directly by a standalone booth; durability comes from
// the raft snapshot/log, not from this type.
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]print.Profile
}

func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[string]print.Profile)}
}

func (s *MemStore) Get(printer string, format print.Format) (print.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[print.ProfileKey(printer, format)]
	if !ok {
		return print.Profile{}, fmt.Errorf("%s %s: %w", printer, format, ErrNotFound)
	}
	return clone(p), nil
}

func (s *MemStore) Set(p print.Profile) error {
	if p.Printer == "" {
		return errors.New("profile printer name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[print.ProfileKey(p.Printer, p.Format)] = clone(p)
	return nil
}

func (s *MemStore) Delete(printer string, format print.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.profiles, print.ProfileKey(printer, format))
	return nil
}

// List returns all profiles ordered by key, so exports are deterministic.
func (s *MemStore) List() []print.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.profiles))
	for k := range s.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]print.Profile, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(s.profiles[k]))
	}
	return out
}

// Replace swaps the full contents of the store. Used when restoring
// replicated state from a snapshot.
func (s *MemStore) Replace(profiles []print.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = make(map[string]print.Profile, len(profiles))
	for _, p := range profiles {
		s.profiles[print.ProfileKey(p.Printer, p.Format)] = clone(p)
	}
}

// clone copies the profile including its blob, so callers can not mutate
// stored state through a returned slice.
func clone(p print.Profile) print.Profile {
	c := p
	c.DriverState = make([]byte, len(p.DriverState))
	copy(c.DriverState, p.DriverState)
	return c
}

// bundle is the on-wire shape of a profile export. DriverState rides as
// base64 inside JSON and round-trips byte-identical.
type bundle struct {
	Version  int             `json:"version"`
	Profiles []print.Profile `json:"profiles"`
}

const bundleVersion = 1

// ExportAll writes every profile in the store as a JSON bundle, for
// backup or for moving a booth's calibration to another machine.
func ExportAll(w io.Writer, s Store) error {
	b := bundle{Version: bundleVersion, Profiles: s.List()}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// ImportAll reads a bundle and stores every profile in it, overwriting
// existing entries for the same printer+format.
func ImportAll(r io.Reader, s Store) error {
	var b bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return fmt.Errorf("decode profile bundle: %w", err)
	}
	if b.Version != bundleVersion {
		return fmt.Errorf("unsupported profile bundle version %d", b.Version)
	}
	for _, p := range b.Profiles {
		if err := s.Set(p); err != nil {
			return fmt.Errorf("import profile %s/%s: %w", p.Printer, p.Format, err)
		}
	}
	return nil
}
