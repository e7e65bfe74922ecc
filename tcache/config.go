package tcache

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/hyperrors"
)

const (
	DefaultMetaEntriesCopy = 128
	DefaultMetaEntriesTrap = 256
	DefaultCodeCacheBytes  = 4096
	DefaultCodeCacheBase   = 0x8F000000

	minCodeCacheBytes = 128
	maxCodeCacheBytes = 4096
)

// Config selects the cache geometry and backing.
type Config struct {
	MetaEntries     uint32 `json:"meta_entries"`
	CodeCopy        bool   `json:"code_copy"`
	CodeCacheBytes  uint32 `json:"code_cache_bytes"`
	CodeCacheBase   uint32 `json:"code_cache_base"`
	SpillAddress    uint32 `json:"spill_address"`
	CountCollisions bool   `json:"count_collisions"`
}

// DefaultConfig returns the defaults for the chosen backing.
func DefaultConfig(codeCopy bool) Config {
	c := Config{CodeCopy: codeCopy}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.MetaEntries == 0 {
		if c.CodeCopy {
			c.MetaEntries = DefaultMetaEntriesCopy
		} else {
			c.MetaEntries = DefaultMetaEntriesTrap
		}
	}
	if !c.CodeCopy {
		return
	}
	if c.CodeCacheBytes == 0 {
		c.CodeCacheBytes = DefaultCodeCacheBytes
	}
	if c.CodeCacheBase == 0 {
		c.CodeCacheBase = DefaultCodeCacheBase
	}
	if c.SpillAddress == 0 {
		c.SpillAddress = c.CodeCacheBase + c.CodeCacheBytes
	}
}

// Validate fills in defaults and checks the geometry.
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.MetaEntries != 128 && c.MetaEntries != 256 {
		return fmt.Errorf("%w: meta entries %d, want 128 or 256", hyperrors.ErrCBadConfig, c.MetaEntries)
	}
	if !c.CodeCopy {
		return nil
	}
	if c.CodeCacheBytes%4 != 0 || c.CodeCacheBytes < minCodeCacheBytes || c.CodeCacheBytes > maxCodeCacheBytes {
		return fmt.Errorf("%w: code cache size %d", hyperrors.ErrCBadConfig, c.CodeCacheBytes)
	}
	if c.CodeCacheBase%4 != 0 || c.SpillAddress%4 != 0 {
		return fmt.Errorf("%w: code cache base %#x and spill %#x must be word aligned", hyperrors.ErrCBadConfig, c.CodeCacheBase, c.SpillAddress)
	}
	return nil
}
