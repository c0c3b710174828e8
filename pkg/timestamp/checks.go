package timestamp

import (
	"bytes"
	"errors"

	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// ErrPublicationNotFound is returned by PublicationSource implementations
// when no publication exists for the requested identifier.
var ErrPublicationNotFound = errors.New("publication not found")

// KeyHash is one entry of the publications file's key-hash table: the
// imprint of a gateway signing key and the moment the key was published.
type KeyHash struct {
	Imprint         hashchain.Imprint
	PublicationTime int64
}

// PublicationSource is the out-of-band trust oracle verification consumes.
// Implementations answer from a parsed publications file; the core never
// fetches or parses one itself.
type PublicationSource interface {
	// PublishedData returns the publication with the given POSIX-seconds
	// identifier, or ErrPublicationNotFound.
	PublishedData(identifier uint64) (*PublishedData, error)

	// KeyHashes lists the published gateway key hashes.
	KeyHashes() []KeyHash
}

// CheckDocumentHash compares the token's message imprint against a document
// hash: same algorithm, same digest.
func (t *Timestamp) CheckDocumentHash(dh *hash.DataHash) error {
	const op = "check document"

	if dh == nil || dh.Streaming() || len(dh.Digest) == 0 {
		return errorf(op, CodeInvalidArgument, "document hash not complete")
	}

	alg, err := t.tstInfo.MessageImprint.Algorithm()
	if err != nil {
		return newError(op, CodeUntrustedHashAlgorithm, err)
	}
	if alg != hash.Fix(dh.Algorithm) {
		return errorf(op, CodeDifferentHashAlgorithms, "token uses %v, document hashed with %v", alg, dh.Algorithm)
	}
	if !bytes.Equal(t.tstInfo.MessageImprint.HashedMessage, dh.Digest) {
		return errorf(op, CodeWrongDocument, "document digest does not match token")
	}

	return nil
}

// CheckPublication confirms that the token's published data appears
// verbatim in the publications oracle.
func (t *Timestamp) CheckPublication(source PublicationSource) error {
	const op = "check publication"

	published, err := source.PublishedData(t.timeSig.PublishedData.Identifier)
	if err != nil {
		if errors.Is(err, ErrPublicationNotFound) {
			return errorf(op, CodeTrustPointNotFound, "no publication %d", t.timeSig.PublishedData.Identifier)
		}
		return newError(op, CodeIOError, err)
	}
	if !published.Equal(&t.timeSig.PublishedData) {
		return errorf(op, CodeInvalidTrustPoint, "publication %d does not match token", t.timeSig.PublishedData.Identifier)
	}

	return nil
}

// CheckPublicKey confirms that the signer key of a short-term token is in
// the oracle's key-hash table and was published no later than the token's
// registration time.
func (t *Timestamp) CheckPublicKey(registeredTime int64, source PublicationSource) error {
	const op = "check public key"

	if t.timeSig.PKSignature == nil {
		return errorf(op, CodeInvalidArgument, "token carries no PKI signature")
	}
	cert, err := t.signerCertificate()
	if err != nil {
		return newError(op, CodeInvalidFormat, err)
	}
	if cert == nil {
		return errorf(op, CodeInvalidFormat, "no signer certificate in token")
	}
	keyDER := cert.RawSubjectPublicKeyInfo

	var cached hashchain.Imprint
	for _, kh := range source.KeyHashes() {
		if len(kh.Imprint) == 0 {
			continue
		}
		if len(cached) == 0 || cached[0] != kh.Imprint[0] {
			cached, err = hashchain.Compute(hash.Algorithm(kh.Imprint[0]), keyDER)
			if err != nil {
				// Key cannot be hashed under this algorithm; skip the
				// entry like any other non-match.
				cached = nil
				continue
			}
		}
		if !bytes.Equal(cached, kh.Imprint) {
			continue
		}
		if kh.PublicationTime > registeredTime {
			return errorf(op, CodeCertTicketTooOld, "key published %d, token registered %d", kh.PublicationTime, registeredTime)
		}
		return nil
	}

	return errorf(op, CodeKeyNotPublished, "signer key is not in the publications file")
}

// VerifyAgainst composes the full verification: the core pipeline, then the
// optional document-hash and publications checks. The returned info has the
// corresponding status bits set for every check that ran and error flags
// for every check that failed.
func (t *Timestamp) VerifyAgainst(dh *hash.DataHash, source PublicationSource, parseExplicit bool) (*VerificationInfo, error) {
	info, err := t.Verify(parseExplicit)
	if err != nil {
		return nil, err
	}

	if dh != nil {
		info.Status |= DocumentHashChecked
		if err := t.CheckDocumentHash(dh); err != nil {
			if CodeOf(err).System() {
				return nil, err
			}
			info.Errors |= WrongDocumentFailure
		}
	}

	if source != nil {
		info.Status |= PublicationChecked
		if t.Extended() {
			if err := t.CheckPublication(source); err != nil {
				if CodeOf(err).System() {
					return nil, err
				}
				info.Errors |= NotValidPublication
			}
		} else {
			if err := t.CheckPublicKey(info.Implicit.RegisteredTime, source); err != nil {
				if CodeOf(err).System() {
					return nil, err
				}
				info.Errors |= NotValidPublicKeyFailure
			}
		}
	}

	return info, nil
}
