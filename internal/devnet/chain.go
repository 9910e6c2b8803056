package devnet

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/i5heu/ouroboros-vault/pkg/session"
)

// DefaultBlockTime is the interval at which the emulated chain produces a
// block.
const DefaultBlockTime = 12 * time.Second

// chain emulates block production. Block hashes are derived from a seed
// and the height, so they are unpredictable without the seed but stable
// for a given height.
type chain struct {
	seed      []byte
	genesis   time.Time
	blockTime time.Duration
	clock     session.Clock
}

func (c *chain) height() uint64 {
	elapsed := c.clock.Now().Sub(c.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.blockTime)
}

func (c *chain) blockhash(height uint64) string {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	k := sha3.NewLegacyKeccak256()
	k.Write(c.seed)
	k.Write(h[:])
	return "0x" + hex.EncodeToString(k.Sum(nil))
}

func (c *chain) latest() (uint64, string) {
	height := c.height()
	return height, c.blockhash(height)
}
