package storage

import (
	"encoding/json"
	"testing"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/nsf/jsondiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, path string) *SnapshotStore {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleContext(mem guest.Memory) *guest.Context {
	c := guest.NewContext(mem)
	c.StoreGPR(arm.R0, 0xDEADBEEF)
	c.StoreGPR(arm.SP, 0x7000)
	c.R15 = 0x8004
	c.SPSRBank[3] = uint32(arm.ModeUSR)
	c.CP15.Regs[guest.CP15DACR] = 0x55555555
	return c
}

func TestContextRoundTrip(t *testing.T) {
	s := newStore(t, "")
	mem := guest.NewFlatMemory(true)
	c := sampleContext(mem)
	require.NoError(t, s.SaveContext("boot", c))

	got, err := s.LoadContext("boot", mem)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x8004), got.R15)
	assert.Equal(t, uint32(0x7000), got.LoadGPR(arm.SP))
	assert.Same(t, mem, got.Memory)

	want, err := json.Marshal(c)
	require.NoError(t, err)
	have, err := json.Marshal(got)
	require.NoError(t, err)
	opts := jsondiff.DefaultConsoleOptions()
	diff, text := jsondiff.Compare(want, have, &opts)
	assert.Equal(t, jsondiff.FullMatch, diff, text)
}

func TestSnapshotDocument(t *testing.T) {
	s := newStore(t, "")
	c := sampleContext(guest.NewFlatMemory(true))
	require.NoError(t, s.SaveContext("boot", c))

	stored, err := s.ContextJSON("boot")
	require.NoError(t, err)
	expected, err := json.Marshal(map[string]any{"name": "boot", "context": c})
	require.NoError(t, err)
	opts := jsondiff.DefaultConsoleOptions()
	diff, text := jsondiff.Compare(stored, expected, &opts)
	assert.Equal(t, jsondiff.SupersetMatch, diff, text)
}

func TestPagesRoundTrip(t *testing.T) {
	s := newStore(t, "")
	src := guest.NewFlatMemory(false)
	src.WriteWords(0x8000, 1, 2, 3)
	src.WriteWords(0x20000, 0xCAFE)
	require.NoError(t, s.SavePages("boot", src))

	dst := guest.NewFlatMemory(false)
	n, err := s.LoadPages("boot", dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, src.PageNumbers(), dst.PageNumbers())
	v, err := dst.Load(guest.Word, 0x8008)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)

	// saving again drops pages that are gone
	fresh := guest.NewFlatMemory(false)
	fresh.WriteWords(0x1000, 7)
	require.NoError(t, s.SavePages("boot", fresh))
	n, err = s.LoadPages("boot", guest.NewFlatMemory(false))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListAndDelete(t *testing.T) {
	s := newStore(t, "")
	mem := guest.NewFlatMemory(true)
	for _, name := range []string{"b", "a", "ab"} {
		require.NoError(t, s.SaveContext(name, guest.NewContext(mem)))
	}
	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ab", "b"}, names)

	require.NoError(t, s.Delete("a"))
	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "b"}, names)
	_, err = s.LoadContext("a", mem)
	assert.Error(t, err)
}

func TestInvalidNames(t *testing.T) {
	s := newStore(t, "")
	c := guest.NewContext(guest.NewFlatMemory(true))
	assert.Error(t, s.SaveContext("", c))
	assert.Error(t, s.SaveContext("a/b", c))
}

func TestReopenFromDisk(t *testing.T) {
	dir := t.TempDir()
	mem := guest.NewFlatMemory(true)
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveContext("disk", sampleContext(mem)))
	require.NoError(t, s.Close())

	s = newStore(t, dir)
	got, err := s.LoadContext("disk", mem)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), got.LoadGPR(arm.R0))
	assert.Equal(t, uint32(0x55555555), got.CP15.Regs[guest.CP15DACR])
}
