package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	movR0     = 0xE3A00001 // mov r0, #1
	addR1     = 0xE2801002 // add r1, r0, #2
	branch    = 0xEA000000 // b .+8
	nop       = 0xE1A00000
	bkptPass  = 0xE1200070
	wfi       = 0xE320F003
	svc       = 0xEF000000
	udf       = 0xE7F000F0
	addR0PC   = 0xE28F0004 // add r0, pc, #4
	programAt = 0x8000
)

type recordingHost struct {
	segments []Segment
	err      error
}

func (h *recordingHost) Execute(c *guest.Context, s Segment) error {
	h.segments = append(h.segments, s)
	return h.err
}

func newVCPU(t *testing.T, codeCopy bool, host Host, words ...uint32) (*VCPU, *guest.FlatMemory) {
	t.Helper()
	mem := guest.NewFlatMemory(false)
	mem.Map(0, 0x10000)
	mem.WriteWords(programAt, words...)
	cfg := Config{Cache: tcache.DefaultConfig(codeCopy), TestMode: true}
	v, err := New(cfg, mem, host)
	require.NoError(t, err)
	v.Context().R15 = programAt
	return v, mem
}

func TestRunTrapMode(t *testing.T) {
	host := &recordingHost{}
	v, mem := newVCPU(t, false, host, movR0, addR1, branch, nop, bkptPass)

	res, err := v.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Result{Steps: 2, Reason: StopPassed}, res)
	require.Len(t, host.segments, 1)
	assert.Equal(t, Segment{PC: 0x8000, Stop: 0x8008}, host.segments[0])

	// the branch is patched with the trap of its block
	e, idx, ok := v.Cache().Lookup(0x8000)
	require.True(t, ok)
	assert.Equal(t, uint32(0x8008), e.End)
	word, err := mem.Load(guest.Word, 0x8008)
	require.NoError(t, err)
	assert.Equal(t, arm.HypercallARM(idx), word)
	fetched, err := v.fetch(0x8008)
	require.NoError(t, err)
	assert.Equal(t, uint32(branch), fetched)
	assert.Equal(t, uint32(0x8008), v.Context().LastPC)
	assert.Equal(t, uint32(0x8010), v.Context().R15)
}

func TestScanBlockIsCached(t *testing.T) {
	v, _ := newVCPU(t, false, nil, movR0, branch)
	first, err := v.ScanBlock(programAt)
	require.NoError(t, err)
	second, err := v.ScanBlock(programAt)
	require.NoError(t, err)
	assert.Equal(t, first.End, second.End)
	assert.Equal(t, uint64(1), v.Cache().Stats().Inserts)
}

func TestRunCopyMode(t *testing.T) {
	host := &recordingHost{}
	v, mem := newVCPU(t, true, host, movR0, addR0PC, branch, nop, bkptPass)

	res, err := v.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, StopPassed, res.Reason)

	// guest memory is never patched in copy mode
	word, err := mem.Load(guest.Word, 0x8008)
	require.NoError(t, err)
	assert.Equal(t, uint32(branch), word)

	require.Len(t, host.segments, 1)
	s := host.segments[0]
	require.NotNil(t, s.Code)
	assert.Equal(t, v.Cache().Config().SpillAddress, s.Spill)

	_, idx, ok := v.Cache().Lookup(programAt)
	require.True(t, ok)
	tr, ok := v.Translation(idx)
	require.True(t, ok)
	assert.Equal(t, tr.HostEntry(), s.PC)
	words := tr.Words()
	assert.Equal(t, uint32(movR0), words[1])
	assert.Equal(t, arm.HypercallARM(idx), words[len(words)-1])
	assert.Equal(t, s.Stop, s.Code.Address(tr.Entry.Code.Start+tr.Entry.Code.Size-1))

	pc, ok := v.HostToGuest(s.PC)
	require.True(t, ok)
	assert.Equal(t, uint32(programAt), pc)
	pc, ok = v.HostToGuest(s.PC + 4)
	require.True(t, ok)
	assert.Equal(t, uint32(programAt+4), pc)
}

func TestTranslationsFollowTheCache(t *testing.T) {
	v, _ := newVCPU(t, true, nil, movR0, branch)
	_, err := v.ScanBlock(programAt)
	require.NoError(t, err)
	idx := v.Cache().Index(programAt)
	_, ok := v.Translation(idx)
	require.True(t, ok)

	v.Cache().InvalidateAddress(programAt)
	_, ok = v.Translation(idx)
	assert.False(t, ok)

	_, err = v.ScanBlock(programAt)
	require.NoError(t, err)
	v.Cache().Clear()
	_, ok = v.Translation(idx)
	assert.False(t, ok)
}

func TestInvalidateRestoresTrapSite(t *testing.T) {
	v, mem := newVCPU(t, false, nil, movR0, addR1, branch)
	_, err := v.ScanBlock(programAt)
	require.NoError(t, err)

	v.Cache().InvalidateAddress(0x8004)
	_, _, ok := v.Cache().Lookup(programAt)
	assert.False(t, ok)
	word, err := mem.Load(guest.Word, 0x8008)
	require.NoError(t, err)
	assert.Equal(t, uint32(branch), word)
}

func TestRunStopsOnIdle(t *testing.T) {
	v, _ := newVCPU(t, false, nil, wfi)
	res, err := v.Run(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, Result{Steps: 1, Reason: StopIdle}, res)
	assert.True(t, v.Context().Idle)
	assert.Equal(t, uint32(programAt+4), v.Context().R15)
}

func TestRunStepLimit(t *testing.T) {
	v, _ := newVCPU(t, false, nil, branch, nop, branch, nop, bkptPass)
	res, err := v.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Result{Steps: 1, Reason: StopLimit}, res)
	assert.Equal(t, uint32(0x8008), v.Context().R15)
}

func TestRunUndefinedEntersHandler(t *testing.T) {
	v, _ := newVCPU(t, false, nil, udf)
	_, err := v.Run(context.Background(), 1)
	require.NoError(t, err)
	c := v.Context()
	assert.Equal(t, arm.ModeUND, c.Mode())
	assert.Equal(t, guest.VectorUndefined, c.R15)
	lr, err := c.LoadGPRMode(arm.LR, arm.ModeUND)
	require.NoError(t, err)
	assert.Equal(t, uint32(programAt+4), lr)
}

func TestRunNeedsHostForBodies(t *testing.T) {
	v, _ := newVCPU(t, false, nil, movR0, branch)
	_, err := v.Run(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestRunHostError(t *testing.T) {
	boom := errors.New("boom")
	v, _ := newVCPU(t, false, &recordingHost{err: boom}, movR0, branch)
	_, err := v.Run(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint32(programAt), v.Context().R15)
}

func TestRunHonoursContext(t *testing.T) {
	v, _ := newVCPU(t, false, nil, bkptPass)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := v.Run(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Steps)
}

func TestRunRejectsThumb(t *testing.T) {
	v, _ := newVCPU(t, false, nil, bkptPass)
	v.Context().CPSR |= arm.PSRT
	_, err := v.Run(context.Background(), 1)
	assert.ErrorIs(t, err, hyperrors.ErrINotImplemented)
	assert.False(t, hyperrors.IsGuestFault(err))
}

func TestRunTestFailure(t *testing.T) {
	v, _ := newVCPU(t, false, nil, 0xE1200071) // bkpt #1
	_, err := v.Run(context.Background(), 1)
	assert.ErrorIs(t, err, hyperrors.ErrITestFailed)
	assert.True(t, hyperrors.IsGuestFault(err))
}

func TestStep(t *testing.T) {
	v, _ := newVCPU(t, false, nil, movR0, svc)
	err := v.Step()
	assert.ErrorIs(t, err, hyperrors.ErrINotImplemented)

	c := v.Context()
	c.R15 = programAt + 4
	require.NoError(t, v.Step())
	assert.Equal(t, guest.VectorSVC, c.R15)
	assert.Equal(t, uint32(programAt+4), c.LastPC)
	lr, err := c.LoadGPRMode(arm.LR, arm.ModeSVC)
	require.NoError(t, err)
	assert.Equal(t, uint32(programAt+8), lr)
}

func TestCopyModeBlockTooLarge(t *testing.T) {
	words := make([]uint32, 40)
	for i := range words {
		words[i] = nop
	}
	mem := guest.NewFlatMemory(false)
	mem.WriteWords(programAt, append(words, branch)...)
	cfg := DefaultConfig()
	cfg.Cache.CodeCacheBytes = 128
	v, err := New(cfg, mem, nil)
	require.NoError(t, err)

	_, err = v.ScanBlock(programAt)
	assert.ErrorIs(t, err, hyperrors.ErrCBlockTooLarge)
	_, _, ok := v.Cache().Lookup(programAt)
	assert.False(t, ok)
}

func TestScanBlockFetchFault(t *testing.T) {
	v, _ := newVCPU(t, true, nil)
	_, err := v.ScanBlock(0x20000)
	assert.ErrorIs(t, err, hyperrors.ErrMUnmapped)
}

func TestScanCopyModePassesClz(t *testing.T) {
	const clz = 0xE16F0F11 // clz r0, r1
	v, _ := newVCPU(t, true, nil, movR0, clz, branch)
	e, err := v.ScanBlock(programAt)
	require.NoError(t, err)
	assert.Equal(t, uint32(programAt+8), e.End)
	tr, ok := v.Translation(v.Cache().Index(programAt))
	require.True(t, ok)
	assert.Contains(t, tr.Words(), uint32(clz))
}
