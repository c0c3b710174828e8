// Package hashchain implements the hash-chain primitive of keyless
// timestamps: an ordered sequence of steps that folds a starting data
// imprint into a single final imprint.
//
// The wire form of a step is consumed byte by byte:
//
//	direction | algorithm | sibling (digest-size bytes) | level
//
// where direction selects which side of the concatenation the running
// imprint takes, algorithm identifies both the sibling digest and the hash
// applied at this step, and level is a non-decreasing ceiling checked by the
// syntactic rules of the location chain.
package hashchain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/openkeyless/timesig/pkg/hash"
)

var (
	// ErrMalformed is returned when a chain cannot be parsed: truncated
	// step, direction byte outside {0, 1} or unknown algorithm id.
	ErrMalformed = errors.New("malformed hash chain")

	// ErrLevels is returned when the level bytes of a chain decrease.
	ErrLevels = errors.New("hash chain levels not monotonic")

	// ErrShape is returned when a chain shape cannot have produced the
	// published identifier it is paired with.
	ErrShape = errors.New("hash chain shape inconsistent with publication identifier")
)

// Step is one parsed hash-chain step. Offset is the byte position of the
// step inside the chain, retained so embedded name tags can be located
// after parsing.
type Step struct {
	Direction byte
	Algorithm hash.Algorithm
	Sibling   []byte
	Level     int
	Offset    int
}

// Imprint is a data imprint: one algorithm id byte followed by the digest
// of that algorithm.
type Imprint []byte

// NewImprint builds a data imprint from an algorithm and digest.
func NewImprint(alg hash.Algorithm, digest []byte) Imprint {
	im := make(Imprint, 1+len(digest))
	im[0] = byte(alg)
	copy(im[1:], digest)
	return im
}

// Compute hashes data under alg and returns the resulting imprint.
func Compute(alg hash.Algorithm, data []byte) (Imprint, error) {
	digest, err := hash.Sum(alg, data)
	if err != nil {
		return nil, err
	}
	return NewImprint(alg, digest), nil
}

// Check reports whether the imprint is well-formed: non-empty, known
// algorithm id, digest of exactly the advertised size.
func (im Imprint) Check() error {
	if len(im) == 0 {
		return fmt.Errorf("%w: empty imprint", ErrMalformed)
	}
	alg := hash.Algorithm(im[0])
	if !hash.Supported(alg) {
		return fmt.Errorf("%w: unknown algorithm id %d", hash.ErrUnsupported, im[0])
	}
	if len(im) != 1+alg.Size() {
		return fmt.Errorf("%w: imprint size %d does not match %v", ErrMalformed, len(im), alg)
	}
	return nil
}

// Equal compares two imprints byte for byte.
func (im Imprint) Equal(other Imprint) bool {
	return bytes.Equal(im, other)
}

// Algorithm returns the algorithm id byte of the imprint.
func (im Imprint) Algorithm() hash.Algorithm {
	if len(im) == 0 {
		return -1
	}
	return hash.Algorithm(im[0])
}

// Digest returns the digest bytes of the imprint.
func (im Imprint) Digest() []byte {
	if len(im) == 0 {
		return nil
	}
	return im[1:]
}

// Parse decodes a chain into steps. The empty chain is valid and folds any
// imprint to itself.
func Parse(chain []byte) ([]Step, error) {
	var steps []Step
	pos := 0
	for pos < len(chain) {
		if len(chain)-pos < 2 {
			return nil, fmt.Errorf("%w: truncated step at offset %d", ErrMalformed, pos)
		}
		dir := chain[pos]
		if dir != 0 && dir != 1 {
			return nil, fmt.Errorf("%w: direction byte 0x%02x at offset %d", ErrMalformed, dir, pos)
		}
		alg := hash.Algorithm(chain[pos+1])
		if !hash.Supported(alg) {
			return nil, fmt.Errorf("%w: unknown algorithm id %d at offset %d", ErrMalformed, chain[pos+1], pos)
		}
		size := alg.Size()
		if len(chain)-pos < 2+size+1 {
			return nil, fmt.Errorf("%w: truncated step at offset %d", ErrMalformed, pos)
		}
		steps = append(steps, Step{
			Direction: dir,
			Algorithm: alg,
			Sibling:   chain[pos+2 : pos+2+size],
			Level:     int(chain[pos+2+size]),
			Offset:    pos,
		})
		pos += 2 + size + 1
	}
	return steps, nil
}

// Append serializes a step onto chain. It is the inverse of Parse and is
// used by tests and fixture builders.
func Append(chain []byte, step Step) []byte {
	chain = append(chain, step.Direction, byte(step.Algorithm))
	chain = append(chain, step.Sibling...)
	return append(chain, byte(step.Level))
}

// fold applies one step to the running imprint: the sibling's full imprint
// (algorithm byte plus digest) is concatenated on the side the direction
// byte assigns it, and the result is hashed under the step algorithm.
func fold(in Imprint, step Step) (Imprint, error) {
	sibling := NewImprint(step.Algorithm, step.Sibling)
	data := make([]byte, 0, len(in)+len(sibling))
	if step.Direction == 0 {
		data = append(append(data, in...), sibling...)
	} else {
		data = append(append(data, sibling...), in...)
	}
	return Compute(step.Algorithm, data)
}

// Calculate folds the whole chain over the input imprint. Level bytes do
// not participate in hashing; they are checked separately.
func Calculate(chain []byte, input Imprint) (Imprint, error) {
	steps, err := Parse(chain)
	if err != nil {
		return nil, err
	}
	out := input
	for _, step := range steps {
		if out, err = fold(out, step); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CheckWellFormed verifies that every step of the chain parses cleanly.
func CheckWellFormed(chain []byte) error {
	_, err := Parse(chain)
	return err
}

// CheckLevels verifies that the level bytes never decrease along the chain.
func CheckLevels(chain []byte) error {
	steps, err := Parse(chain)
	if err != nil {
		return err
	}
	last := -1
	for _, step := range steps {
		if step.Level < last {
			return fmt.Errorf("%w: level %d after %d at offset %d", ErrLevels, step.Level, last, step.Offset)
		}
		last = step.Level
	}
	return nil
}
