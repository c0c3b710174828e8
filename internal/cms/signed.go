package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

// ErrFormat is wrapped into every parse failure of this package.
var ErrFormat = errors.New("malformed CMS structure")

// ContentInfo is the top-level CMS structure (RFC 5652 Section 3).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData is CMS SignedData (RFC 5652 Section 5) with uninterpreted
// components kept as raw DER.
type SignedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue // SET OF AlgorithmIdentifier
	EncapContentInfo asn1.RawValue // EncapsulatedContentInfo SEQUENCE
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []SignerInfo  `asn1:"set"`
}

// SignerInfo is a CMS signer-info (RFC 5652 Section 5.3). The signed
// attribute block keeps its implicit [0] header so it can be re-emitted
// verbatim.
type SignerInfo struct {
	Version            int
	SID                asn1.RawValue // IssuerAndSerialNumber SEQUENCE
	DigestAlgorithm    pkix.AlgorithmIdentifier
	AuthAttrs          asn1.RawValue `asn1:"optional,tag:0"`
	DigestEncAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest    []byte
	UnauthAttrs        asn1.RawValue `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies the signer certificate.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// EncapsulatedContentInfo is the content being signed (RFC 5652 Section 5.2).
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// Attribute is a CMS attribute. Values keeps the raw DER of the value set
// contents.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// ParseContentInfo decodes the outer ContentInfo and requires SignedData
// content with no trailing garbage.
func ParseContentInfo(der []byte) (*ContentInfo, error) {
	var ci ContentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after ContentInfo", ErrFormat)
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type is not SignedData", ErrFormat)
	}
	return &ci, nil
}

// ParseSignedData decodes the SignedData carried in a ContentInfo.
func ParseSignedData(ci *ContentInfo) (*SignedData, error) {
	var sd SignedData
	rest, err := asn1.Unmarshal(ci.Content.Bytes, &sd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after SignedData", ErrFormat)
	}
	return &sd, nil
}

// Encapsulated decodes the EncapsulatedContentInfo component.
func (sd *SignedData) Encapsulated() (*EncapsulatedContentInfo, error) {
	var eci EncapsulatedContentInfo
	if _, err := asn1.Unmarshal(sd.EncapContentInfo.FullBytes, &eci); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return &eci, nil
}

// DigestAlgorithmList decodes the digestAlgorithms set.
func (sd *SignedData) DigestAlgorithmList() ([]pkix.AlgorithmIdentifier, error) {
	var algs []pkix.AlgorithmIdentifier
	data := sd.DigestAlgorithms.Bytes
	for len(data) > 0 {
		var alg pkix.AlgorithmIdentifier
		rest, err := asn1.Unmarshal(data, &alg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		algs = append(algs, alg)
		data = rest
	}
	return algs, nil
}

// CertificateList decodes the certificate bag, tolerating its implicit [0]
// SET OF framing.
func (sd *SignedData) CertificateList() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	data := sd.Certificates.Bytes
	for len(data) > 0 {
		var raw asn1.RawValue
		rest, err := asn1.Unmarshal(data, &raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		certs = append(certs, cert)
		data = rest
	}
	return certs, nil
}

// IssuerAndSerial decodes the signer identifier.
func (si *SignerInfo) IssuerAndSerial() (*IssuerAndSerialNumber, error) {
	var ias IssuerAndSerialNumber
	if _, err := asn1.Unmarshal(si.SID.FullBytes, &ias); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return &ias, nil
}

// FindCertificate returns the certificate from the bag matching the
// signer-info's issuer and serial, or nil when absent.
func (sd *SignedData) FindCertificate(si *SignerInfo) (*x509.Certificate, error) {
	ias, err := si.IssuerAndSerial()
	if err != nil {
		return nil, err
	}
	certs, err := sd.CertificateList()
	if err != nil {
		return nil, err
	}
	for _, cert := range certs {
		if bytes.Equal(cert.RawIssuer, ias.Issuer.FullBytes) &&
			cert.SerialNumber.Cmp(ias.SerialNumber) == 0 {
			return cert, nil
		}
	}
	return nil, nil
}

// SignedAttributes decodes the signed attribute list.
func (si *SignerInfo) SignedAttributes() ([]Attribute, error) {
	var attrs []Attribute
	data := si.AuthAttrs.Bytes
	for len(data) > 0 {
		var attr Attribute
		rest, err := asn1.Unmarshal(data, &attr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		attrs = append(attrs, attr)
		data = rest
	}
	return attrs, nil
}

// FindSignedAttribute returns the raw DER of the first value of the named
// signed attribute, or nil when the attribute is absent.
func (si *SignerInfo) FindSignedAttribute(oid asn1.ObjectIdentifier) (*asn1.RawValue, error) {
	attrs, err := si.SignedAttributes()
	if err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		if attr.Type.Equal(oid) && len(attr.Values) > 0 {
			v := attr.Values[0]
			return &v, nil
		}
	}
	return nil, nil
}

// SignedAttributesDER returns the signed attribute block re-tagged as the
// explicit SET OF form that is the input to digesting and hash-chain
// aggregation (RFC 5652 Section 5.4).
func (si *SignerInfo) SignedAttributesDER() []byte {
	if len(si.AuthAttrs.FullBytes) == 0 {
		return nil
	}
	der := make([]byte, len(si.AuthAttrs.FullBytes))
	copy(der, si.AuthAttrs.FullBytes)
	der[0] = 0x31
	return der
}

// Marshal re-assembles the SignedData into a full ContentInfo DER encoding.
// Raw components are emitted verbatim; typed components are re-encoded.
func (sd *SignedData) Marshal() ([]byte, error) {
	body, err := asn1.Marshal(*sd)
	if err != nil {
		return nil, err
	}
	ci := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{FullBytes: wrapExplicit(0, body)},
	}
	return asn1.Marshal(ci)
}

// wrapExplicit prepends a context-specific constructed tag around der.
func wrapExplicit(tag int, der []byte) []byte {
	return append(tagHeader(0xa0|byte(tag), len(der)), der...)
}

// tagHeader encodes a DER tag-and-length header.
func tagHeader(tag byte, length int) []byte {
	switch {
	case length < 0x80:
		return []byte{tag, byte(length)}
	case length < 0x100:
		return []byte{tag, 0x81, byte(length)}
	case length < 0x10000:
		return []byte{tag, 0x82, byte(length >> 8), byte(length)}
	default:
		return []byte{tag, 0x83, byte(length >> 16), byte(length >> 8), byte(length)}
	}
}
