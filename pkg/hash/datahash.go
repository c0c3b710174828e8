package hash

import (
	"errors"
	stdhash "hash"
)

var (
	// ErrStreaming is returned when a finished digest is required but the
	// DataHash is still open for writing.
	ErrStreaming = errors.New("data hash is still being computed")

	// ErrClosed is returned when Add or Close is called on a DataHash that
	// is not open.
	ErrClosed = errors.New("data hash is not open")
)

// DataHash carries a document digest together with the algorithm that
// produced it. A DataHash is either complete (Digest set) or open for
// streaming (created by Open, completed by Close).
type DataHash struct {
	Algorithm Algorithm
	Digest    []byte

	ctx stdhash.Hash
}

// Create computes the digest of data in one call.
func Create(alg Algorithm, data []byte) (*DataHash, error) {
	alg = Fix(alg)
	if !Supported(alg) {
		return nil, ErrUnsupported
	}
	digest, err := Sum(alg, data)
	if err != nil {
		return nil, err
	}
	return &DataHash{Algorithm: alg, Digest: digest}, nil
}

// Open starts a streaming digest computation.
func Open(alg Algorithm) (*DataHash, error) {
	alg = Fix(alg)
	if !Supported(alg) {
		return nil, ErrUnsupported
	}
	ctx, err := alg.New()
	if err != nil {
		return nil, err
	}
	return &DataHash{Algorithm: alg, ctx: ctx}, nil
}

// Add feeds more data into an open DataHash.
func (d *DataHash) Add(data []byte) error {
	if d.ctx == nil {
		return ErrClosed
	}
	d.ctx.Write(data)
	return nil
}

// Close finishes a streaming computation and stores the digest.
func (d *DataHash) Close() error {
	if d.ctx == nil {
		return ErrClosed
	}
	d.Digest = d.ctx.Sum(nil)
	d.ctx = nil
	return nil
}

// Streaming reports whether the DataHash is still accepting data.
func (d *DataHash) Streaming() bool {
	return d.ctx != nil
}

// Complete reports whether the DataHash holds a finished digest of the
// expected size.
func (d *DataHash) Complete() bool {
	return d.ctx == nil && len(d.Digest) == d.Algorithm.Size() && len(d.Digest) > 0
}
