// Package persistence implements the storage layer: structured-text
// config/macro files, a binary macro cache with a magic-number
// header, and one-file-per-profile storage. A cache that is short or
// carries a mismatched magic is rejected and the structured-text form
// is used instead.
package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/razermapper/razermapperd/internal/macro"
	"gopkg.in/yaml.v3"
)

// cacheMagic is the 4-byte little-endian header identifying a valid
// binary macro cache.
const cacheMagic uint32 = 0xDEADBEEF

const profileSuffix = ".yaml"

func init() {
	gob.Register(macro.Entry{})
}

// Paths holds the on-disk locations of every stored artifact.
type Paths struct {
	ConfigPath   string
	MacrosPath   string
	CachePath    string
	ProfilesDir  string
}

// DefaultPaths returns the daemon's default filesystem layout.
func DefaultPaths() Paths {
	return Paths{
		ConfigPath:  "/etc/razermapperd/config.yaml",
		MacrosPath:  "/etc/razermapperd/macros.yaml",
		CachePath:   "/var/cache/razermapperd/macros.bin",
		ProfilesDir: "/etc/razermapperd/profiles",
	}
}

// macroFile is the structured-text shape of macros.yaml and of each
// profile file: an ordered list, so macro order survives the
// save/load round trip the same way action order does.
type macroFile struct {
	Macros []macro.Entry `yaml:"macros"`
}

// Store owns every on-disk path and the in-memory profile name index
// exclusively; no other component touches them.
type Store struct {
	paths Paths

	mu       sync.Mutex
	profiles map[string]struct{} // name set, refreshed from ProfilesDir
}

// NewStore constructs a storage layer over paths.
func NewStore(paths Paths) *Store {
	return &Store{paths: paths, profiles: make(map[string]struct{})}
}

// LoadMacros loads the live macro map in insertion order: the binary
// cache is preferred, falling back to structured text when the cache
// is absent, truncated, or carries a mismatched magic. When the cache
// is unusable and the structured-text file is missing, the result is
// an empty map that is immediately written back to both
// artifacts, the same way config.Load writes back defaults for a
// missing config file.
func (s *Store) LoadMacros() ([]macro.Entry, error) {
	if entries, err := s.loadCache(); err == nil {
		return entries, nil
	}

	entries, existed, err := s.loadMacrosText()
	if err != nil {
		return nil, err
	}
	if !existed {
		if werr := s.SaveMacros(entries); werr != nil {
			return entries, werr
		}
	}
	return entries, nil
}

func (s *Store) loadCache() ([]macro.Entry, error) {
	data, err := os.ReadFile(s.paths.CachePath)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceIOError, "read macro cache", err)
	}
	return decodeCache(data)
}

func decodeCache(data []byte) ([]macro.Entry, error) {
	if len(data) < 4 {
		return nil, errs.New(errs.CacheMagicMismatch, "cache file shorter than header")
	}
	if binary.LittleEndian.Uint32(data[:4]) != cacheMagic {
		return nil, errs.New(errs.CacheMagicMismatch, "cache magic mismatch")
	}
	var entries []macro.Entry
	if err := gob.NewDecoder(bytes.NewReader(data[4:])).Decode(&entries); err != nil {
		return nil, errs.Wrap(errs.SerializationError, "decode macro cache", err)
	}
	return entries, nil
}

func encodeCache(entries []macro.Entry) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(entries); err != nil {
		return nil, errs.Wrap(errs.SerializationError, "encode macro cache", err)
	}
	var out bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], cacheMagic)
	out.Write(header[:])
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// loadMacrosText reads macros.yaml, reporting via existed whether the
// file was present at all (as opposed to present but empty), so
// LoadMacros can tell a genuinely missing macro set from one that is
// simply empty.
func (s *Store) loadMacrosText() (entries []macro.Entry, existed bool, err error) {
	data, err := os.ReadFile(s.paths.MacrosPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, errs.Wrap(errs.PersistenceIOError, "read macros file", err)
	}
	var f macroFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, true, errs.Wrap(errs.SerializationError, "decode macros file", err)
	}
	return f.Macros, true, nil
}

// SaveMacros writes both the binary cache and the structured-text
// file. Both are attempted regardless of either failing; the first
// error encountered is returned, and partial success is tolerated.
func (s *Store) SaveMacros(entries []macro.Entry) error {
	var first error

	cacheData, err := encodeCache(entries)
	if err != nil {
		first = err
	} else if err := writeFileEnsureDir(s.paths.CachePath, cacheData, 0644); err != nil {
		werr := errs.Wrap(errs.PersistenceIOError, "write macro cache", err)
		if first == nil {
			first = werr
		}
	}

	textData, err := yaml.Marshal(macroFile{Macros: entries})
	if err != nil {
		werr := errs.Wrap(errs.SerializationError, "encode macros file", err)
		if first == nil {
			first = werr
		}
	} else if err := writeFileEnsureDir(s.paths.MacrosPath, textData, 0644); err != nil {
		werr := errs.Wrap(errs.PersistenceIOError, "write macros file", err)
		if first == nil {
			first = werr
		}
	}

	return first
}

// SaveProfile snapshots entries into the named profile, overwriting
// any prior profile of the same name on disk and in memory.
func (s *Store) SaveProfile(name string, entries []macro.Entry) error {
	data, err := yaml.Marshal(macroFile{Macros: entries})
	if err != nil {
		return errs.Wrap(errs.SerializationError, "encode profile", err)
	}
	if err := writeFileEnsureDir(s.profilePath(name), data, 0644); err != nil {
		return errs.Wrap(errs.PersistenceIOError, "write profile "+name, err)
	}

	s.mu.Lock()
	s.profiles[name] = struct{}{}
	s.mu.Unlock()
	return nil
}

// LoadProfile reads the named profile's macros for the caller to
// merge into the live map. Returns DeviceNotFound-style PersistenceIOError
// semantics are not applicable here: a missing profile is reported as
// PersistenceIOError, since unlike macros.yaml a named profile has no
// empty-default meaning.
func (s *Store) LoadProfile(name string) ([]macro.Entry, error) {
	data, err := os.ReadFile(s.profilePath(name))
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceIOError, "read profile "+name, err)
	}
	var f macroFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errs.Wrap(errs.SerializationError, "decode profile "+name, err)
	}

	s.mu.Lock()
	s.profiles[name] = struct{}{}
	s.mu.Unlock()
	return f.Macros, nil
}

// ListProfiles returns lexicographically sorted profile names found
// in the profile directory.
func (s *Store) ListProfiles() ([]string, error) {
	dirEntries, err := os.ReadDir(s.paths.ProfilesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceIOError, "list profiles", err)
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), profileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(de.Name(), profileSuffix))
	}
	sort.Strings(names)

	s.mu.Lock()
	s.profiles = make(map[string]struct{}, len(names))
	for _, n := range names {
		s.profiles[n] = struct{}{}
	}
	s.mu.Unlock()
	return names, nil
}

// DeleteProfile removes the named profile from disk and from the
// in-memory index. A missing profile is a no-op, never an error.
func (s *Store) DeleteProfile(name string) error {
	err := os.Remove(s.profilePath(name))
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.PersistenceIOError, "delete profile "+name, err)
	}

	s.mu.Lock()
	delete(s.profiles, name)
	s.mu.Unlock()
	return nil
}

func (s *Store) profilePath(name string) string {
	return filepath.Join(s.paths.ProfilesDir, name+profileSuffix)
}

func writeFileEnsureDir(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, mode)
}
