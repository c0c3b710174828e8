package timestamp

import (
	"encoding/asn1"

	"github.com/openkeyless/timesig/internal/cms"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// checkSyntax enforces the structural rules a decodable token must still
// satisfy, in order, failing on the first violation. Most of the grammar is
// already enforced by decoding; what remains are version pins, extension
// handling, chain well-formedness and the two mandatory signed attributes.
func (t *Timestamp) checkSyntax() error {
	const op = "syntax check"

	if t.signedData.Version != 3 {
		return errorf(op, CodeUnsupportedFormat, "SignedData version %d", t.signedData.Version)
	}
	if t.tstInfo.Version != 1 {
		return errorf(op, CodeUnsupportedFormat, "TSTInfo version %d", t.tstInfo.Version)
	}
	if t.signerInfo.Version != 1 {
		return errorf(op, CodeUnsupportedFormat, "SignerInfo version %d", t.signerInfo.Version)
	}

	for _, ext := range t.tstInfo.Extensions {
		if ext.Critical {
			return errorf(op, CodeUnsupportedFormat, "unknown critical extension %v", ext.Id)
		}
	}

	if err := t.timeSig.PublishedData.Imprint.Check(); err != nil {
		return newError(op, CodeInvalidFormat, err)
	}

	if err := hashchain.CheckWellFormed(t.timeSig.Location); err != nil {
		return newError(op, CodeInvalidFormat, err)
	}
	if err := hashchain.CheckWellFormed(t.timeSig.History); err != nil {
		return newError(op, CodeInvalidFormat, err)
	}
	if err := hashchain.CheckLevels(t.timeSig.Location); err != nil {
		return newError(op, CodeInvalidFormat, err)
	}

	contentType, err := t.signerInfo.FindSignedAttribute(cms.OIDContentType)
	if err != nil {
		return newError(op, CodeInvalidFormat, err)
	}
	if contentType == nil {
		return errorf(op, CodeInvalidFormat, "missing content-type signed attribute")
	}
	var typeOID asn1.ObjectIdentifier
	if _, err := asn1.Unmarshal(contentType.FullBytes, &typeOID); err != nil || !typeOID.Equal(cms.OIDTSTInfo) {
		return errorf(op, CodeInvalidFormat, "content-type attribute is not TSTInfo")
	}

	digest, err := t.signerInfo.FindSignedAttribute(cms.OIDMessageDigest)
	if err != nil {
		return newError(op, CodeInvalidFormat, err)
	}
	if digest == nil || digest.Tag != asn1.TagOctetString || digest.IsCompound {
		return errorf(op, CodeInvalidFormat, "missing or malformed message-digest signed attribute")
	}
	// The digest value itself is compared during the hash chain check.

	return nil
}
