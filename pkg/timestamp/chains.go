package timestamp

import (
	"bytes"

	"github.com/openkeyless/timesig/internal/cms"
	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// checkHashChain recomputes the published imprint from scratch: hash the
// signed attributes, fold them through the location and history chains, and
// apply the final publication hash. The result must match the published
// imprint byte for byte.
func (t *Timestamp) checkHashChain() error {
	const op = "hash chain check"

	published := t.timeSig.PublishedData.Imprint
	if len(published) < 1 {
		return errorf(op, CodeInvalidFormat, "empty publication imprint")
	}
	algServer := hash.Algorithm(published[0])
	if !hash.Supported(algServer) {
		return errorf(op, CodeUntrustedHashAlgorithm, "publication imprint algorithm id %d", published[0])
	}

	algClient, err := hash.FromOID(t.signerInfo.DigestAlgorithm.Algorithm)
	if err != nil {
		return newError(op, CodeUntrustedHashAlgorithm, err)
	}
	if !nullOrAbsent(t.signerInfo.DigestAlgorithm.Parameters) {
		return errorf(op, CodeInvalidFormat, "digest algorithm carries parameters")
	}

	// The message-digest attribute must commit to the DER of the TSTInfo.
	tstImprint, err := hashchain.Compute(algClient, t.tstInfoDER)
	if err != nil {
		return newError(op, CodeCryptoFailure, err)
	}
	digestAttr, err := t.signerInfo.FindSignedAttribute(cms.OIDMessageDigest)
	if err != nil || digestAttr == nil {
		return errorf(op, CodeInvalidFormat, "missing message-digest signed attribute")
	}
	if !bytes.Equal(digestAttr.Bytes, tstImprint.Digest()) {
		return errorf(op, CodeWrongSignedData, "message digest does not match TSTInfo")
	}

	// The aggregation input is the digest of the signed attributes in
	// their explicit SET OF form.
	attrsDER := t.signerInfo.SignedAttributesDER()
	if attrsDER == nil {
		return errorf(op, CodeInvalidFormat, "missing signed attributes")
	}
	input, err := hashchain.Compute(algClient, attrsDER)
	if err != nil {
		return newError(op, CodeCryptoFailure, err)
	}

	folded, err := hashchain.Calculate(t.timeSig.Location, input)
	if err != nil {
		return newError(op, CodeInvalidFormat, err)
	}
	folded, err = hashchain.Calculate(t.timeSig.History, folded)
	if err != nil {
		return newError(op, CodeInvalidFormat, err)
	}

	final, err := hashchain.Compute(algServer, folded)
	if err != nil {
		return newError(op, CodeCryptoFailure, err)
	}

	if !bytes.Equal(final, published) {
		return errorf(op, CodeInvalidAggregation, "recomputed imprint does not match publication")
	}

	return nil
}
