package timestamp

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// KeyPublicationTime decides the moment a signing key counts as published
// when computing the short-term key fingerprint. The default uses the
// certificate's notBefore, matching deployed gateway behaviour; it is a
// package hook because the publications file may eventually carry a better
// source.
var KeyPublicationTime = func(cert *x509.Certificate) time.Time {
	return cert.NotBefore
}

// KeyFingerprintAlgorithm is the digest used for the short-term public key
// fingerprint. Fixed to SHA-256 independent of what the publications file
// advertises; deployed verifiers expect exactly this.
var KeyFingerprintAlgorithm = hash.SHA256

// ImplicitInfo is the information every verification recovers from the
// token without being asked: the issuer position decoded from the location
// chain, the registration round decoded from the history chain, and the
// trust anchor string (key fingerprint while short-term, publication string
// once extended).
type ImplicitInfo struct {
	LocationID           uint64
	LocationName         string
	RegisteredTime       int64
	PublicKeyFingerprint string
	PublicationString    string
}

// VerificationInfo is the complete result of verifying one timestamp. It is
// produced even when checks fail; Errors carries one flag per failed
// sub-check so callers always see the full picture.
type VerificationInfo struct {
	Version  int
	Errors   ErrorFlags
	Status   StatusFlags
	Implicit ImplicitInfo
	Explicit *ExplicitInfo
}

// Verify runs the verification pipeline: structural checks, implicit
// extraction, hash-chain recomputation and, for short-term tokens, the
// embedded PKI signature. Sub-check failures accumulate into flags instead
// of short-circuiting; a short-term token without a signer certificate gets
// no key fingerprint and a PublicKeySignatureFailure flag. Internal failures
// abort with an error and no info, and so do a certificate bag that does not
// decode and, with parseExplicit, explicit fields that do not decode.
func (t *Timestamp) Verify(parseExplicit bool) (*VerificationInfo, error) {
	info := &VerificationInfo{Version: 2}

	if parseExplicit {
		explicit, err := t.buildExplicitInfo(info)
		if err != nil {
			return nil, err
		}
		info.Explicit = explicit
	}

	if t.timeSig.PKSignature != nil {
		info.Status |= PublicKeySignaturePresent
	}
	if len(t.timeSig.PubReference) > 0 {
		info.Status |= PublicationReferencePresent
	}

	// Implicit block: registration round from the history chain shape.
	registered, err := t.RegisteredTime()
	if err != nil {
		code := CodeOf(err)
		if code.Syntax() || code == CodeWrongSizeOfHistory {
			info.Errors |= SyntacticCheckFailure
			registered = 0
		} else {
			return nil, err
		}
	}
	info.Implicit.RegisteredTime = registered

	// Implicit block: issuer position from the location chain shape.
	loc, err := extractLocation(t.timeSig.Location)
	switch {
	case err == nil:
		info.Implicit.LocationID = loc.id()
		info.Implicit.LocationName = loc.name()
	case errors.Is(err, hashchain.ErrMalformed), errors.Is(err, hash.ErrUnsupported):
		info.Errors |= SyntacticCheckFailure
	default:
		return nil, err
	}

	// Implicit block: trust anchor string.
	var cert *x509.Certificate
	if t.timeSig.PKSignature != nil {
		cert, err = t.signerCertificate()
		if err != nil {
			return nil, newError("verify", CodeInvalidFormat, err)
		}
		// Without a certificate there is no fingerprint; the PKI check
		// below flags the missing certificate.
		if cert != nil {
			fingerprint, err := keyFingerprint(cert)
			if err != nil {
				return nil, err
			}
			info.Implicit.PublicKeyFingerprint = fingerprint
			if info.Explicit != nil {
				t.fillCertificateInfo(info.Explicit, cert)
			}
		}
	} else {
		info.Implicit.PublicationString = t.timeSig.PublishedData.String()
	}

	if err := t.checkSyntax(); err != nil {
		info.Errors |= SyntacticCheckFailure
	}

	if err := t.checkHashChain(); err != nil {
		switch CodeOf(err) {
		case CodeInvalidFormat, CodeUntrustedHashAlgorithm, CodeWrongSignedData, CodeInvalidAggregation:
			info.Errors |= HashchainVerificationFailure
		default:
			return nil, err
		}
	}

	if t.timeSig.PKSignature != nil {
		if err := t.checkPKISignature(cert); err != nil {
			switch CodeOf(err) {
			case CodeInvalidFormat, CodeUntrustedHashAlgorithm, CodeUntrustedSignatureAlgorithm,
				CodeWrongSignedData, CodeInvalidSignature:
				info.Errors |= PublicKeySignatureFailure
			default:
				return nil, err
			}
		}
	}

	return info, nil
}

// keyFingerprint renders the short-term trust anchor: published data built
// from the signer key (publication time per the KeyPublicationTime policy,
// imprint over the DER of the public key) in base-32 form.
func keyFingerprint(cert *x509.Certificate) (string, error) {
	imprint, err := hashchain.Compute(KeyFingerprintAlgorithm, cert.RawSubjectPublicKeyInfo)
	if err != nil {
		return "", newError("verify", CodeCryptoFailure, err)
	}
	pd := PublishedData{
		Identifier: uint64(KeyPublicationTime(cert).Unix()),
		Imprint:    imprint,
	}
	return pd.String(), nil
}
