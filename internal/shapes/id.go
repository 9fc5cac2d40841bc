package shapes

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"
)

const (
	counterBits = 32
	nonceBits   = 21
	counterMask = 1<<counterBits - 1
	nonceMask   = 1<<nonceBits - 1
)

// ErrIDSpaceExhausted indicates that a generator issued every identifier available to it.
var ErrIDSpaceExhausted = errors.New("shapes: id space exhausted")

// IDProvider issues shape identifiers.
type IDProvider interface {
	NextID() (ID, error)
}

// IDGenerator issues identifiers for one room. The high bits hold a random
// per-generator nonce and the low 32 bits a monotonic counter; every value stays
// below 2^53 so it survives a round trip through a JSON number.
type IDGenerator struct {
	mu      sync.Mutex
	nonce   int64
	counter int64
}

// NewIDGenerator seeds a generator with a nonce taken from a random UUID.
func NewIDGenerator() *IDGenerator {
	seed := uuid.New()
	nonce := int64(binary.BigEndian.Uint32(seed[:4]) & nonceMask)
	if nonce == 0 {
		nonce = 1
	}
	return NewIDGeneratorWithNonce(nonce)
}

// NewIDGeneratorWithNonce builds a generator with a fixed nonce; values outside the nonce range are masked.
func NewIDGeneratorWithNonce(nonce int64) *IDGenerator {
	return &IDGenerator{nonce: nonce & nonceMask}
}

// NextID returns the next identifier for this generator.
func (g *IDGenerator) NextID() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.counter >= counterMask {
		return 0, ErrIDSpaceExhausted
	}
	g.counter++
	return ID(g.nonce<<counterBits | g.counter), nil
}
