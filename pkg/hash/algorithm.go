// Package hash defines the hash algorithms of the keyless timestamp wire
// format and a streaming DataHash helper around them.
//
// Algorithm identifiers are stable single-byte values that appear inside
// hash chains, data imprints and publication strings; they are not OIDs.
package hash

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"errors"
	stdhash "hash"

	"golang.org/x/crypto/ripemd160"
)

// Algorithm is a wire-format hash algorithm identifier.
type Algorithm int

// The identifiers are fixed by the wire format and must never change.
const (
	SHA1      Algorithm = 0
	SHA256    Algorithm = 1
	RIPEMD160 Algorithm = 2
	SHA224    Algorithm = 3
	SHA384    Algorithm = 4
	SHA512    Algorithm = 5

	// Default stands for "use the service default" and is substituted
	// with SHA256 wherever a concrete algorithm is needed.
	Default Algorithm = -1
)

// ErrUnsupported is returned when an algorithm identifier or OID is outside
// the supported set.
var ErrUnsupported = errors.New("unsupported hash algorithm")

var digestSizes = map[Algorithm]int{
	SHA1:      20,
	SHA256:    32,
	RIPEMD160: 20,
	SHA224:    28,
	SHA384:    48,
	SHA512:    64,
}

var names = map[Algorithm]string{
	SHA1:      "SHA1",
	SHA256:    "SHA256",
	RIPEMD160: "RIPEMD160",
	SHA224:    "SHA224",
	SHA384:    "SHA384",
	SHA512:    "SHA512",
}

var oids = map[Algorithm]asn1.ObjectIdentifier{
	SHA1:      {1, 3, 14, 3, 2, 26},
	SHA256:    {2, 16, 840, 1, 101, 3, 4, 2, 1},
	RIPEMD160: {1, 3, 36, 3, 2, 1},
	SHA224:    {2, 16, 840, 1, 101, 3, 4, 2, 4},
	SHA384:    {2, 16, 840, 1, 101, 3, 4, 2, 2},
	SHA512:    {2, 16, 840, 1, 101, 3, 4, 2, 3},
}

// Fix substitutes the Default marker with the concrete default algorithm.
func Fix(alg Algorithm) Algorithm {
	if alg == Default {
		return SHA256
	}
	return alg
}

// Supported reports whether alg is a concrete supported algorithm.
func Supported(alg Algorithm) bool {
	_, ok := digestSizes[alg]
	return ok
}

// Size returns the digest size of alg in bytes, or 0 when unknown.
func (a Algorithm) Size() int {
	return digestSizes[a]
}

// String returns the conventional name of the algorithm.
func (a Algorithm) String() string {
	if s, ok := names[a]; ok {
		return s
	}
	return "<unknown or untrusted hash algorithm>"
}

// OID returns the X.509 object identifier of the algorithm.
func (a Algorithm) OID() (asn1.ObjectIdentifier, error) {
	oid, ok := oids[a]
	if !ok {
		return nil, ErrUnsupported
	}
	return oid, nil
}

// New returns a fresh hash.Hash computing this algorithm.
func (a Algorithm) New() (stdhash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case RIPEMD160:
		return ripemd160.New(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, ErrUnsupported
	}
}

// FromOID resolves an X.509 algorithm OID into a wire identifier.
func FromOID(oid asn1.ObjectIdentifier) (Algorithm, error) {
	for alg, o := range oids {
		if o.Equal(oid) {
			return alg, nil
		}
	}
	return 0, ErrUnsupported
}

// FromName resolves a conventional algorithm name, case-insensitively.
func FromName(name string) (Algorithm, error) {
	for alg, n := range names {
		if equalFold(n, name) {
			return alg, nil
		}
	}
	return 0, ErrUnsupported
}

// Sum computes the digest of data under alg.
func Sum(alg Algorithm, data []byte) ([]byte, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
