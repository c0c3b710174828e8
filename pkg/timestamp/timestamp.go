package timestamp

import (
	"encoding/asn1"
	"errors"

	"github.com/openkeyless/timesig/internal/cms"
	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// Timestamp is a decoded timestamp token. The raw DER is the value of
// record; the TSTInfo and TimeSignature views are projections of it,
// re-derived whenever a new token is constructed. A Timestamp is immutable
// after construction: extension produces a fresh value.
type Timestamp struct {
	raw        []byte
	signedData *cms.SignedData
	signerInfo *cms.SignerInfo
	tstInfoDER []byte
	tstInfo    *TSTInfo
	timeSig    *TimeSignature
}

// Decode parses a DER-encoded timestamp token. The token must be a
// non-detached CMS SignedData carrying a TSTInfo, with exactly one
// signer-info whose signature algorithm is the TimeSignature OID.
func Decode(der []byte) (*Timestamp, error) {
	return decode("decode", der)
}

func decode(op string, input []byte) (*Timestamp, error) {
	if len(input) == 0 {
		return nil, errorf(op, CodeInvalidArgument, "empty token")
	}

	// Parse a private copy: the projections below alias into these bytes
	// and must not move under the caller's feet.
	der := make([]byte, len(input))
	copy(der, input)

	ci, err := cms.ParseContentInfo(der)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	sd, err := cms.ParseSignedData(ci)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}

	eci, err := sd.Encapsulated()
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	if !eci.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, errorf(op, CodeInvalidFormat, "encapsulated content is not TSTInfo")
	}
	// A detached token carries no content to decode.
	if len(eci.EContent.FullBytes) == 0 {
		return nil, errorf(op, CodeInvalidFormat, "detached token")
	}
	var eContent asn1.RawValue
	if _, err := asn1.Unmarshal(eci.EContent.Bytes, &eContent); err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	if eContent.Tag != 4 || eContent.IsCompound {
		return nil, errorf(op, CodeInvalidFormat, "encapsulated content is not a primitive octet string")
	}

	if len(sd.SignerInfos) != 1 {
		return nil, errorf(op, CodeInvalidFormat, "token has %d signer infos", len(sd.SignerInfos))
	}
	si := &sd.SignerInfos[0]

	if !si.DigestEncAlgorithm.Algorithm.Equal(cms.OIDTimeSignature) {
		return nil, errorf(op, CodeInvalidFormat, "signature algorithm is not a time signature")
	}
	if !nullOrAbsent(si.DigestEncAlgorithm.Parameters) {
		return nil, errorf(op, CodeInvalidFormat, "time signature algorithm carries parameters")
	}

	tstInfo, err := parseTSTInfo(eContent.Bytes)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	timeSig, err := parseTimeSignature(si.EncryptedDigest)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}

	return &Timestamp{
		raw:        der,
		signedData: sd,
		signerInfo: si,
		tstInfoDER: eContent.Bytes,
		tstInfo:    tstInfo,
		timeSig:    timeSig,
	}, nil
}

// Encode returns the canonical DER encoding of the token.
func (t *Timestamp) Encode() []byte {
	out := make([]byte, len(t.raw))
	copy(out, t.raw)
	return out
}

// TSTInfo returns the decoded RFC 3161 body.
func (t *Timestamp) TSTInfo() *TSTInfo { return t.tstInfo }

// TimeSignature returns the decoded signature payload.
func (t *Timestamp) TimeSignature() *TimeSignature { return t.timeSig }

// Algorithm returns the hash algorithm of the document imprint.
func (t *Timestamp) Algorithm() (hash.Algorithm, error) {
	alg, err := t.tstInfo.MessageImprint.Algorithm()
	if err != nil {
		return 0, newError("algorithm", CodeUntrustedHashAlgorithm, err)
	}
	return alg, nil
}

// Extended reports whether the timestamp is hash-linked (long-term). A
// short-term timestamp still carries its PKI signature.
func (t *Timestamp) Extended() bool {
	return t.timeSig.PKSignature == nil
}

// RegisteredTime decodes the registration moment from the shape of the
// history chain and the publication identifier.
func (t *Timestamp) RegisteredTime() (int64, error) {
	const op = "registered time"
	id, err := hashchain.HistoryIdentifierOf(t.timeSig.PublishedData.Identifier, t.timeSig.History)
	if err != nil {
		return 0, newError(op, historyCode(err), err)
	}
	return int64(id), nil
}

// EarlierThan reports whether t was registered in an earlier aggregation
// round than other. Comparison uses the rounds recovered from the chain
// shapes, so it works across short-term and extended timestamps alike.
func (t *Timestamp) EarlierThan(other *Timestamp) (bool, error) {
	mine, err := t.RegisteredTime()
	if err != nil {
		return false, err
	}
	theirs, err := other.RegisteredTime()
	if err != nil {
		return false, err
	}
	return mine < theirs, nil
}

// historyCode maps hash-chain errors from history decoding to status codes.
func historyCode(err error) Code {
	switch {
	case errors.Is(err, hashchain.ErrShape):
		return CodeWrongSizeOfHistory
	case errors.Is(err, hashchain.ErrMalformed), errors.Is(err, hash.ErrUnsupported):
		return CodeInvalidLinkingInfo
	default:
		return CodeUnknownError
	}
}
