// Package random produces captcha identifiers and codes.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/rand/v2"
	"sync"
	"time"
)

const hexDigits = "0123456789abcdef"

// IDGenerator produces fixed-length lowercase hex identifiers.
//
// Bytes are read from a cryptographic source. If that source fails the
// generator falls back to a non-cryptographic PRNG and still returns an
// identifier of the requested length; the fallback weakens unpredictability
// but is never reported as an error.
type IDGenerator struct {
	src io.Reader

	mu       sync.Mutex
	fallback *rand.Rand
}

// NewIDGenerator returns an IDGenerator reading from src.
// A nil src means crypto/rand.Reader.
func NewIDGenerator(src io.Reader) *IDGenerator {
	if src == nil {
		src = crand.Reader
	}
	return &IDGenerator{
		src:      src,
		fallback: rand.New(rand.NewPCG(cryptoSeed())),
	}
}

// Generate returns a lowercase hex string of exactly length characters.
// Odd lengths are rounded down to the nearest even number and non-positive
// lengths yield an empty string.
func (g *IDGenerator) Generate(length int) string {
	n := length / 2
	if n <= 0 {
		return ""
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(g.src, buf); err == nil {
		return hex.EncodeToString(buf)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]byte, n*2)
	for i := range out {
		out[i] = hexDigits[g.fallback.IntN(len(hexDigits))]
	}
	return string(out)
}

// cryptoSeed returns 16 bytes of seed material for a PCG source, falling
// back to the wall clock when the cryptographic reader is unavailable.
func cryptoSeed() (uint64, uint64) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		now := uint64(time.Now().UnixNano())
		return now, now >> 1
	}
	return binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])
}
