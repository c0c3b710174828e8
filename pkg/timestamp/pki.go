package timestamp

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"

	"github.com/openkeyless/timesig/internal/cms"
	"github.com/openkeyless/timesig/pkg/hash"
)

// signatureDigest resolves a signature algorithm OID into the digest it
// uses. Only RSA PKCS#1 v1.5 and ECDSA families appear in tokens.
func signatureDigest(oid asn1.ObjectIdentifier) (hash.Algorithm, bool) {
	switch {
	case oid.Equal(cms.OIDSHA1WithRSA), oid.Equal(cms.OIDECDSAWithSHA1):
		return hash.SHA1, true
	case oid.Equal(cms.OIDSHA256WithRSA), oid.Equal(cms.OIDECDSAWithSHA256):
		return hash.SHA256, true
	case oid.Equal(cms.OIDSHA384WithRSA), oid.Equal(cms.OIDECDSAWithSHA384):
		return hash.SHA384, true
	case oid.Equal(cms.OIDSHA512WithRSA), oid.Equal(cms.OIDECDSAWithSHA512):
		return hash.SHA512, true
	}
	return 0, false
}

var cryptoHashes = map[hash.Algorithm]crypto.Hash{
	hash.SHA1:   crypto.SHA1,
	hash.SHA256: crypto.SHA256,
	hash.SHA384: crypto.SHA384,
	hash.SHA512: crypto.SHA512,
}

// signerCertificate finds the certificate matching the signer-info in the
// token's certificate bag, or nil for extended tokens that dropped it.
func (t *Timestamp) signerCertificate() (*x509.Certificate, error) {
	return t.signedData.FindCertificate(t.signerInfo)
}

// checkPKISignature verifies the embedded PKI signature over the DER of the
// published data using the certificate the token carries.
func (t *Timestamp) checkPKISignature(cert *x509.Certificate) error {
	const op = "signature check"

	sig := t.timeSig.PKSignature
	if sig == nil {
		return errorf(op, CodeInvalidFormat, "no PKI signature present")
	}
	if cert == nil {
		return errorf(op, CodeInvalidFormat, "no signer certificate in token")
	}

	if !nullOrAbsent(sig.SignatureAlgorithm.Parameters) {
		return errorf(op, CodeInvalidFormat, "signature algorithm carries parameters")
	}
	alg, ok := signatureDigest(sig.SignatureAlgorithm.Algorithm)
	if !ok {
		return errorf(op, CodeUntrustedSignatureAlgorithm, "signature algorithm %v", sig.SignatureAlgorithm.Algorithm)
	}
	ch, ok := cryptoHashes[alg]
	if !ok {
		return errorf(op, CodeUntrustedSignatureAlgorithm, "no digest for %v", alg)
	}

	message, err := marshalPublishedData(&t.timeSig.PublishedData)
	if err != nil {
		return newError(op, CodeCryptoFailure, err)
	}
	digest, err := hash.Sum(alg, message)
	if err != nil {
		return newError(op, CodeCryptoFailure, err)
	}

	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(key, ch, digest, sig.SignatureValue); err != nil {
			return errorf(op, CodeInvalidSignature, "RSA signature rejected")
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, sig.SignatureValue) {
			return errorf(op, CodeInvalidSignature, "ECDSA signature rejected")
		}
	default:
		return errorf(op, CodeCryptoFailure, "unsupported public key type %T", cert.PublicKey)
	}

	return nil
}
