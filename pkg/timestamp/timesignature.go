package timestamp

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/big"

	"github.com/openkeyless/timesig/internal/base32"
	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// PublishedData is the trust anchor a hash-linked timestamp chains to: the
// POSIX-seconds identifier of the publication round and the published data
// imprint.
type PublishedData struct {
	Identifier uint64
	Imprint    hashchain.Imprint
}

// Equal compares published data structurally.
func (pd *PublishedData) Equal(other *PublishedData) bool {
	return pd.Identifier == other.Identifier && bytes.Equal(pd.Imprint, other.Imprint)
}

// publicationGroupLen is the dash-group size of publication strings and key
// fingerprints.
const publicationGroupLen = 6

// String renders the published data as the human-typable base-32
// publication string: 8 identifier bytes, the imprint, and a CRC32 so
// transcription errors are caught before any lookup.
func (pd *PublishedData) String() string {
	buf := make([]byte, 0, 8+len(pd.Imprint)+4)
	buf = binary.BigEndian.AppendUint64(buf, pd.Identifier)
	buf = append(buf, pd.Imprint...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return base32.Encode(buf, publicationGroupLen)
}

// ParsePublicationString decodes a publication string back into published
// data, checking the trailing CRC32 and the imprint layout.
func ParsePublicationString(s string) (*PublishedData, error) {
	const op = "parse publication"

	raw := base32.Decode(s)
	if len(raw) < 13 {
		return nil, errorf(op, CodeInvalidFormat, "publication string too short")
	}
	sum := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(raw[:len(raw)-4]) != sum {
		return nil, errorf(op, CodeInvalidFormat, "publication string checksum mismatch")
	}

	alg := hash.Algorithm(raw[8])
	if !hash.Supported(alg) {
		return nil, errorf(op, CodeUntrustedHashAlgorithm, "unknown algorithm id %d", raw[8])
	}
	if len(raw) != 8+1+alg.Size()+4 {
		return nil, errorf(op, CodeInvalidFormat, "publication string length %d does not match %v", len(raw), alg)
	}

	return &PublishedData{
		Identifier: binary.BigEndian.Uint64(raw[:8]),
		Imprint:    hashchain.Imprint(append([]byte(nil), raw[8:8+1+alg.Size()]...)),
	}, nil
}

// SignatureInfo is the embedded PKI signature over the DER encoding of the
// published data. It is present exactly while the timestamp is short-term.
type SignatureInfo struct {
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     []byte
	KeyCommitmentRef   [][]byte
}

// TimeSignature is the signature payload of a keyless timestamp: the two
// hash chains, the published data they aggregate to, and the optional PKI
// signature bridging the gap until the next publication.
type TimeSignature struct {
	Location      []byte
	History       []byte
	PublishedData PublishedData
	PKSignature   *SignatureInfo
	PubReference  [][]byte
}

// Wire-level ASN.1 shapes. The octet strings are mapped to []byte; the
// optional components keep their implicit tags.
type timeSignatureASN struct {
	Location      []byte
	History       []byte
	PublishedData publishedDataASN
	PKSignature   signatureInfoASN `asn1:"optional,tag:0"`
	PubReference  asn1.RawValue    `asn1:"optional,set,tag:1"`
}

type publishedDataASN struct {
	PublicationIdentifier *big.Int
	PublicationImprint    []byte
}

type signatureInfoASN struct {
	SignatureAlgorithm pkix.AlgorithmIdentifier
	SignatureValue     []byte
	KeyCommitmentRef   asn1.RawValue `asn1:"optional,set,tag:0"`
}

func (s *signatureInfoASN) present() bool {
	return len(s.SignatureAlgorithm.Algorithm) > 0 || len(s.SignatureValue) > 0
}

// parseOctetStrings walks the contents of a SET OF OCTET STRING.
func parseOctetStrings(data []byte) ([][]byte, error) {
	var out [][]byte
	for len(data) > 0 {
		var os []byte
		rest, err := asn1.Unmarshal(data, &os)
		if err != nil {
			return nil, err
		}
		out = append(out, os)
		data = rest
	}
	return out, nil
}

// parsePublishedData converts the wire form, rejecting identifiers that do
// not fit 64 bits.
func parsePublishedData(pd *publishedDataASN) (*PublishedData, error) {
	if pd.PublicationIdentifier == nil || pd.PublicationIdentifier.Sign() < 0 ||
		pd.PublicationIdentifier.BitLen() > 64 {
		return nil, fmt.Errorf("publication identifier out of range")
	}
	return &PublishedData{
		Identifier: pd.PublicationIdentifier.Uint64(),
		Imprint:    hashchain.Imprint(pd.PublicationImprint),
	}, nil
}

func (pd *PublishedData) asn() publishedDataASN {
	return publishedDataASN{
		PublicationIdentifier: new(big.Int).SetUint64(pd.Identifier),
		PublicationImprint:    pd.Imprint,
	}
}

// marshalPublishedData emits the DER form used both inside the token and as
// the message of the embedded PKI signature.
func marshalPublishedData(pd *PublishedData) ([]byte, error) {
	return asn1.Marshal(pd.asn())
}

// parseTimeSignature decodes the encryptedDigest payload of the signer
// info.
func parseTimeSignature(der []byte) (*TimeSignature, error) {
	var ts timeSignatureASN
	rest, err := asn1.Unmarshal(der, &ts)
	if err != nil {
		return nil, fmt.Errorf("TimeSignature: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("TimeSignature: trailing data")
	}

	pd, err := parsePublishedData(&ts.PublishedData)
	if err != nil {
		return nil, fmt.Errorf("TimeSignature: %w", err)
	}

	out := &TimeSignature{
		Location:      ts.Location,
		History:       ts.History,
		PublishedData: *pd,
	}

	if ts.PKSignature.present() {
		refs, err := parseOctetStrings(ts.PKSignature.KeyCommitmentRef.Bytes)
		if err != nil {
			return nil, fmt.Errorf("TimeSignature: key commitment refs: %w", err)
		}
		out.PKSignature = &SignatureInfo{
			SignatureAlgorithm: ts.PKSignature.SignatureAlgorithm,
			SignatureValue:     ts.PKSignature.SignatureValue,
			KeyCommitmentRef:   refs,
		}
	}

	if len(ts.PubReference.Bytes) > 0 {
		refs, err := parseOctetStrings(ts.PubReference.Bytes)
		if err != nil {
			return nil, fmt.Errorf("TimeSignature: publication refs: %w", err)
		}
		out.PubReference = refs
	}

	return out, nil
}

// marshalTimeSignature emits the DER form for packing into the signer
// info's encryptedDigest.
func marshalTimeSignature(ts *TimeSignature) ([]byte, error) {
	wire := timeSignatureASN{
		Location:      ts.Location,
		History:       ts.History,
		PublishedData: ts.PublishedData.asn(),
	}
	if ts.PKSignature != nil {
		wire.PKSignature = signatureInfoASN{
			SignatureAlgorithm: ts.PKSignature.SignatureAlgorithm,
			SignatureValue:     ts.PKSignature.SignatureValue,
		}
		if len(ts.PKSignature.KeyCommitmentRef) > 0 {
			raw, err := implicitOctetStringSet(0, ts.PKSignature.KeyCommitmentRef)
			if err != nil {
				return nil, err
			}
			wire.PKSignature.KeyCommitmentRef = raw
		}
	}
	if len(ts.PubReference) > 0 {
		raw, err := implicitOctetStringSet(1, ts.PubReference)
		if err != nil {
			return nil, err
		}
		wire.PubReference = raw
	}
	return asn1.Marshal(wire)
}

// implicitOctetStringSet builds a context-tagged SET OF OCTET STRING as a
// raw value ready for verbatim emission.
func implicitOctetStringSet(tag int, values [][]byte) (asn1.RawValue, error) {
	var body []byte
	for _, v := range values {
		der, err := asn1.Marshal(v)
		if err != nil {
			return asn1.RawValue{}, err
		}
		body = append(body, der...)
	}
	return asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        tag,
		IsCompound: true,
		Bytes:      body,
		FullBytes:  wrapContext(tag, body),
	}, nil
}

// wrapContext prepends a constructed context-specific tag header.
func wrapContext(tag int, body []byte) []byte {
	header := []byte{0xa0 | byte(tag)}
	n := len(body)
	switch {
	case n < 0x80:
		header = append(header, byte(n))
	case n < 0x100:
		header = append(header, 0x81, byte(n))
	default:
		header = append(header, 0x82, byte(n>>8), byte(n))
	}
	return append(header, body...)
}

// renderReference renders a publication or key commitment reference: the
// 00 01 prefix marks UTF-8 text, anything else is shown as hex.
func renderReference(ref []byte) string {
	if len(ref) >= 2 && ref[0] == 0 && ref[1] == 1 {
		return string(ref[2:])
	}
	return hexColon(ref)
}
