package timestamp

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/openkeyless/timesig/internal/asn1time"
	"github.com/openkeyless/timesig/pkg/hash"
)

// MessageImprint is the hash of the timestamped document: an algorithm
// identifier and the digest it produced.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// Algorithm resolves the imprint's OID to a wire algorithm id, rejecting
// non-NULL algorithm parameters.
func (mi *MessageImprint) Algorithm() (hash.Algorithm, error) {
	alg, err := hash.FromOID(mi.HashAlgorithm.Algorithm)
	if err != nil {
		return 0, err
	}
	if !nullOrAbsent(mi.HashAlgorithm.Parameters) {
		return 0, hash.ErrUnsupported
	}
	return alg, nil
}

// Accuracy bounds the distance between the stated time and true time
// (RFC 3161 Section 2.4.2). All three components are optional.
type Accuracy struct {
	Seconds *big.Int `asn1:"optional"`
	Millis  *big.Int `asn1:"optional,tag:0"`
	Micros  *big.Int `asn1:"optional,tag:1"`
}

// Milliseconds returns the accuracy collapsed to whole milliseconds, or -1
// when absent. Millis and micros must be in 1..999 when present; seconds
// must not be negative.
func (a *Accuracy) Milliseconds() (int64, error) {
	if a.Seconds == nil && a.Millis == nil && a.Micros == nil {
		return -1, nil
	}
	var sec, millis int64
	if a.Seconds != nil {
		sec = a.Seconds.Int64()
		if sec < 0 {
			return 0, fmt.Errorf("negative accuracy seconds")
		}
	}
	if a.Millis != nil {
		millis = a.Millis.Int64()
		if millis < 1 || millis > 999 {
			return 0, fmt.Errorf("accuracy millis out of range: %d", millis)
		}
	}
	if a.Micros != nil {
		micros := a.Micros.Int64()
		if micros < 1 || micros > 999 {
			return 0, fmt.Errorf("accuracy micros out of range: %d", micros)
		}
	}
	return sec*1000 + millis, nil
}

// TSTInfo is the RFC 3161 body of a timestamp token. GenTime is kept raw
// and decoded on demand; the struct is read-only after decoding, the
// canonical bytes live in the enclosing token.
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        asn1.RawValue
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,explicit,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// parseTSTInfo decodes the DER body extracted from the token's
// encapsulated content.
func parseTSTInfo(der []byte) (*TSTInfo, error) {
	var info TSTInfo
	rest, err := asn1.Unmarshal(der, &info)
	if err != nil {
		return nil, fmt.Errorf("TSTInfo: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("TSTInfo: trailing data")
	}
	return &info, nil
}

// GenTimeUnix decodes the generation time into POSIX seconds.
func (t *TSTInfo) GenTimeUnix() (int64, error) {
	return asn1time.Parse(t.GenTime)
}

// TSAName renders the optional TSA general name for display. Directory
// names come out in RFC 2253 form, string forms verbatim, anything else as
// colon-separated hex.
func (t *TSTInfo) TSAName() string {
	if len(t.TSA.FullBytes) == 0 {
		return ""
	}
	gn := t.TSA
	if gn.Class == asn1.ClassContextSpecific {
		switch gn.Tag {
		case 1, 2, 6: // rfc822Name, dNSName, uniformResourceIdentifier
			return string(gn.Bytes)
		case 4: // directoryName
			var rdn pkix.RDNSequence
			if _, err := asn1.Unmarshal(gn.Bytes, &rdn); err == nil {
				var name pkix.Name
				name.FillFromRDNSequence(&rdn)
				return name.String()
			}
		}
	}
	return hexColon(gn.FullBytes)
}

// nullOrAbsent reports whether algorithm parameters are either missing or
// an explicit ASN.1 NULL.
func nullOrAbsent(params asn1.RawValue) bool {
	if len(params.FullBytes) == 0 {
		return true
	}
	return params.Class == asn1.ClassUniversal && params.Tag == asn1.TagNull && !params.IsCompound
}
