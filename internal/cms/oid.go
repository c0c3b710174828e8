// Package cms implements the minimal CMS (PKCS#7) SignedData subset carried
// by keyless timestamp tokens. Decoded structures keep the original DER of
// every component they do not interpret, so a token can be re-emitted
// byte-identically and individual fields can be replaced without disturbing
// the rest of the encoding.
package cms

import "encoding/asn1"

// Content type and attribute OIDs (RFC 5652, RFC 3161).
var (
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	OIDTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	OIDContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
)

// OIDTimeSignature identifies the signature payload of a keyless timestamp:
// the encryptedDigest of the single signer-info carries a DER-encoded
// TimeSignature instead of a PKI signature value.
var OIDTimeSignature = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 27868, 4, 1}

// Signature algorithm OIDs accepted for the embedded PKI signature on
// published data.
var (
	OIDSHA1WithRSA     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)
