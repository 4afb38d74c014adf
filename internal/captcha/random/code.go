package random

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// Alphabet is the set of characters a challenge code is drawn from.
// Digits and letters that are easily confused with each other (0/O, 1/l/I)
// are not paired in the set.
const Alphabet = "1A2a3B4b5C6c7D8d9EeFf"

// Code length bounds, inclusive.
const (
	MinCodeLength = 4
	MaxCodeLength = 10
)

// ErrInvalidCodeLength is returned when a code length is outside
// [MinCodeLength, MaxCodeLength].
var ErrInvalidCodeLength = errors.New("code length out of range")

// CodeGenerator draws challenge codes uniformly from Alphabet.
// It is safe for concurrent use.
type CodeGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCodeGenerator returns a CodeGenerator using rng. A nil rng gets a PCG
// source seeded from crypto/rand so the sequence is not predictable
// across processes.
func NewCodeGenerator(rng *rand.Rand) *CodeGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(cryptoSeed()))
	}
	return &CodeGenerator{rng: rng}
}

// Generate returns a code of exactly length characters, each drawn
// independently with replacement from Alphabet.
func (g *CodeGenerator) Generate(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidCodeLength, length, MinCodeLength, MaxCodeLength)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.Grow(length)
	for range length {
		b.WriteByte(Alphabet[g.rng.IntN(len(Alphabet))])
	}
	return b.String(), nil
}
