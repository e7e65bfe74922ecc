package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/storage"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProgram(t *testing.T, words ...uint32) string {
	t.Helper()
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	path := filepath.Join(t.TempDir(), "prog.bin")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReadProgramPadsToWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x01, 0x00, 0xA0, 0xE3, 0xFF}, 0o644))
	words, err := readProgram(path)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0xE3A00001, 0xFF}, words)

	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = readProgram(empty)
	assert.Error(t, err)
}

func TestConfigFileAndFlags(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "vcpu.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"cache":{"meta_entries":128,"code_copy":false},"reserved_word":true}`), 0o644))

	root := newRootCmd()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	run.InheritedFlags()
	g := &globalFlags{configPath: cfgPath, mode: "copy", testMode: true}
	cfg, err := loadConfig(run, g)
	require.NoError(t, err)
	assert.False(t, cfg.Cache.CodeCopy)
	assert.Equal(t, uint32(128), cfg.Cache.MetaEntries)
	assert.True(t, cfg.ReservedWord)

	require.NoError(t, root.PersistentFlags().Set("mode", "copy"))
	cfg, err = loadConfig(run, g)
	require.NoError(t, err)
	assert.True(t, cfg.Cache.CodeCopy)

	g.mode = "jit"
	_, err = loadConfig(run, g)
	assert.Error(t, err)
}

func TestConfigModeDefaults(t *testing.T) {
	root := newRootCmd()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	run.InheritedFlags()

	g := &globalFlags{mode: "trap", testMode: true}
	cfg, err := loadConfig(run, g)
	require.NoError(t, err)
	assert.False(t, cfg.Cache.CodeCopy)
	assert.Equal(t, uint32(tcache.DefaultMetaEntriesTrap), cfg.Cache.MetaEntries)

	g.mode = "copy"
	cfg, err = loadConfig(run, g)
	require.NoError(t, err)
	assert.Equal(t, tcache.DefaultConfig(true), cfg.Cache)

	// a file that only picks the backing still gets that backing's geometry
	cfgPath := filepath.Join(t.TempDir(), "trap.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"cache":{"code_copy":false}}`), 0o644))
	g = &globalFlags{configPath: cfgPath, mode: "copy", testMode: true}
	cfg, err = loadConfig(run, g)
	require.NoError(t, err)
	assert.Equal(t, tcache.DefaultConfig(false), cfg.Cache)
}

func TestDisasmCommand(t *testing.T) {
	path := writeProgram(t, 0xE3A00001, 0xE28F0004, 0xEF000000)
	out, err := execute(t, "disasm", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "0x00008000")
	assert.Contains(t, lines[0], "copy(")
	assert.Contains(t, lines[1], "pc-sensitive(")
	assert.Contains(t, lines[2], "trap(")
}

func TestScanCommandCopyMode(t *testing.T) {
	path := writeProgram(t, 0xE3A00001, 0xE28F0004, 0xEA000000)
	out, err := execute(t, "scan", "--mode", "copy", path)
	require.NoError(t, err)
	assert.Contains(t, out, "block 0x008000..0x008008")
	assert.Contains(t, out, "translated at")
	assert.Contains(t, out, "meta-cache")
}

func TestRunCommandTrapOnly(t *testing.T) {
	// every block traps on its first instruction, so no host executor is needed
	path := writeProgram(t, 0xE320F003)
	out, err := execute(t, "run", "--mode", "trap", "--steps", "4", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 steps, stopped: idle")
}

func TestSnapshotDiff(t *testing.T) {
	store, err := storage.Open("")
	require.NoError(t, err)
	defer store.Close()

	mem := guest.NewFlatMemory(true)
	a := guest.NewContext(mem)
	require.NoError(t, store.SaveContext("a", a))
	require.NoError(t, store.SaveContext("same", a))
	b := guest.NewContext(mem)
	b.StoreGPR(arm.R0, 7)
	require.NoError(t, store.SaveContext("b", b))

	text, err := diffSnapshots(store, "a", "same")
	require.NoError(t, err)
	assert.Equal(t, "identical\n", text)

	text, err = diffSnapshots(store, "a", "b")
	require.NoError(t, err)
	assert.Contains(t, text, "r0_r7")

	_, err = diffSnapshots(store, "a", "missing")
	assert.Error(t, err)
}
