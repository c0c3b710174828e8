package publications

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/openkeyless/timesig/internal/cms"
	"github.com/openkeyless/timesig/pkg/hash"
)

// ErrSignature is returned when the signature block does not verify.
var ErrSignature = errors.New("publications file signature invalid")

// Verify checks the detached CMS signature over the file body. When roots
// is non-nil the signer certificate must additionally chain to it.
func (f *File) Verify(roots *x509.CertPool) error {
	block := f.SignatureBlock()
	if len(block) == 0 {
		return fmt.Errorf("%w: missing signature block", ErrFormat)
	}

	ci, err := cms.ParseContentInfo(block)
	if err != nil {
		return err
	}
	sd, err := cms.ParseSignedData(ci)
	if err != nil {
		return err
	}
	if len(sd.SignerInfos) != 1 {
		return fmt.Errorf("%w: %d signer infos", ErrFormat, len(sd.SignerInfos))
	}
	si := &sd.SignerInfos[0]

	cert, err := sd.FindCertificate(si)
	if err != nil {
		return err
	}
	if cert == nil {
		return fmt.Errorf("%w: no signer certificate", ErrFormat)
	}

	alg, err := hash.FromOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	// With signed attributes present, the message-digest attribute must
	// commit to the signed prefix of the file and the signature covers
	// the attribute set; without them the signature covers the prefix
	// directly.
	signed := si.SignedAttributesDER()
	if signed != nil {
		digestAttr, err := si.FindSignedAttribute(cms.OIDMessageDigest)
		if err != nil {
			return err
		}
		if digestAttr == nil {
			return fmt.Errorf("%w: missing message-digest attribute", ErrFormat)
		}
		bodyDigest, err := hash.Sum(alg, f.SignedPrefix())
		if err != nil {
			return err
		}
		if !bytes.Equal(digestAttr.Bytes, bodyDigest) {
			return fmt.Errorf("%w: file body digest mismatch", ErrSignature)
		}
	} else {
		signed = f.SignedPrefix()
	}
	digest, err := hash.Sum(alg, signed)
	if err != nil {
		return err
	}

	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		ch, ok := cryptoHash(alg)
		if !ok {
			return fmt.Errorf("%w: no RSA digest for %v", ErrSignature, alg)
		}
		if err := rsa.VerifyPKCS1v15(key, ch, digest, si.EncryptedDigest); err != nil {
			return fmt.Errorf("%w: RSA signature rejected", ErrSignature)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, si.EncryptedDigest) {
			return fmt.Errorf("%w: ECDSA signature rejected", ErrSignature)
		}
	default:
		return fmt.Errorf("%w: unsupported signer key type %T", ErrSignature, cert.PublicKey)
	}

	if roots != nil {
		if _, err := cert.Verify(x509.VerifyOptions{Roots: roots}); err != nil {
			return fmt.Errorf("%w: %v", ErrSignature, err)
		}
	}

	return nil
}

func cryptoHash(alg hash.Algorithm) (crypto.Hash, bool) {
	switch alg {
	case hash.SHA1:
		return crypto.SHA1, true
	case hash.SHA256:
		return crypto.SHA256, true
	case hash.SHA384:
		return crypto.SHA384, true
	case hash.SHA512:
		return crypto.SHA512, true
	}
	return 0, false
}
