package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/razermapper/razermapperd/internal/macro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	return Paths{
		ConfigPath:  filepath.Join(dir, "config.yaml"),
		MacrosPath:  filepath.Join(dir, "macros.yaml"),
		CachePath:   filepath.Join(dir, "cache", "macros.bin"),
		ProfilesDir: filepath.Join(dir, "profiles"),
	}
}

func sampleEntries() []macro.Entry {
	return []macro.Entry{
		{
			Name:    "m1",
			Trigger: macro.NewCombo([]uint16{30}, nil),
			Actions: []macro.Action{{Kind: macro.KeyPress, Code: 30}, {Kind: macro.KeyRelease, Code: 30}},
			Enabled: true,
		},
		{
			Name:    "m2",
			Trigger: macro.NewCombo([]uint16{48}, []uint16{42}),
			Actions: []macro.Action{{Kind: macro.TypeText, Text: "hi"}},
			Enabled: false,
		},
	}
}

func TestSaveAndLoadMacrosPrefersCache(t *testing.T) {
	s := NewStore(testPaths(t))
	entries := sampleEntries()

	require.NoError(t, s.SaveMacros(entries))

	loaded, err := s.LoadMacros()
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestLoadMacrosFallsBackToTextWhenCacheMissing(t *testing.T) {
	paths := testPaths(t)
	s := NewStore(paths)
	entries := sampleEntries()

	// Write only the structured-text side, bypassing the cache.
	data, err := os.ReadFile(paths.MacrosPath)
	_ = data
	require.True(t, os.IsNotExist(err))

	textData, err := yaml.Marshal(macroFile{Macros: entries})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.MacrosPath, textData, 0644))

	loaded, err := s.LoadMacros()
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestLoadMacrosMissingFileYieldsEmptyAndWritesBackDefaults(t *testing.T) {
	paths := testPaths(t)
	s := NewStore(paths)

	loaded, err := s.LoadMacros()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// The empty default is written back to both artifacts, matching
	// config.Load's behavior for a missing config file.
	_, statErr := os.Stat(paths.MacrosPath)
	assert.NoError(t, statErr)
	_, statErr = os.Stat(paths.CachePath)
	assert.NoError(t, statErr)

	// A second load now hits the cache directly and still sees an empty map.
	reloaded, err := s.LoadMacros()
	require.NoError(t, err)
	assert.Empty(t, reloaded)
}

func TestCacheMagicMismatchRejected(t *testing.T) {
	paths := testPaths(t)
	s := NewStore(paths)
	require.NoError(t, s.SaveMacros(sampleEntries()))

	data, err := os.ReadFile(paths.CachePath)
	require.NoError(t, err)
	data[0] ^= 0xFF // corrupt the magic header
	require.NoError(t, os.WriteFile(paths.CachePath, data, 0644))

	_, err = decodeCache(data)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CacheMagicMismatch))

	// The public LoadMacros path falls back to structured text instead of
	// surfacing the cache error, since the text copy is still valid.
	loaded, loadErr := s.LoadMacros()
	require.NoError(t, loadErr)
	assert.Equal(t, sampleEntries(), loaded)
}

func TestCacheShorterThanHeaderRejected(t *testing.T) {
	_, err := decodeCache([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CacheMagicMismatch))
}

func TestProfileRoundTrip(t *testing.T) {
	s := NewStore(testPaths(t))
	entries := sampleEntries()

	require.NoError(t, s.SaveProfile("work", entries))

	loaded, err := s.LoadProfile("work")
	require.NoError(t, err)
	assert.Equal(t, entries, loaded)
}

func TestListProfilesIsSorted(t *testing.T) {
	s := NewStore(testPaths(t))
	require.NoError(t, s.SaveProfile("zeta", sampleEntries()))
	require.NoError(t, s.SaveProfile("alpha", sampleEntries()))
	require.NoError(t, s.SaveProfile("mike", sampleEntries()))

	names, err := s.ListProfiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mike", "zeta"}, names)
}

func TestDeleteProfileIsNoopWhenMissing(t *testing.T) {
	s := NewStore(testPaths(t))
	require.NoError(t, s.DeleteProfile("never-existed"))
}

func TestDeleteProfileRemovesFile(t *testing.T) {
	s := NewStore(testPaths(t))
	require.NoError(t, s.SaveProfile("temp", sampleEntries()))

	require.NoError(t, s.DeleteProfile("temp"))

	names, err := s.ListProfiles()
	require.NoError(t, err)
	assert.NotContains(t, names, "temp")
}
