//go:build !unicorn
// +build !unicorn

package sandbox

import (
	"github.com/dkudinskas/hyparm-sub003/dispatch"
	"github.com/dkudinskas/hyparm-sub003/guest"
)

// Executor is unavailable in this build.
type Executor struct{}

func New() (*Executor, error) { return nil, ErrSandboxUnavailable }

func (*Executor) Execute(*guest.Context, dispatch.Segment) error { return ErrSandboxUnavailable }

func (*Executor) RunWords(uint32, []uint32, *Registers) error { return ErrSandboxUnavailable }

func (*Executor) Close() error { return nil }
