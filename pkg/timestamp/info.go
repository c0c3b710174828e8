package timestamp

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/openkeyless/timesig/internal/base32"
	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// HashEntry is one hash-chain step rendered for display.
type HashEntry struct {
	Algorithm   hash.Algorithm
	Direction   int
	SiblingHash string
	Level       int
}

// SignedAttribute is one signed attribute rendered for display: the OID in
// dotted form and the DER of its values, concatenated without the SET
// header, in colon-separated hex.
type SignedAttribute struct {
	Type  string
	Value string
}

// ExplicitInfo is every field decodable from the token, rendered into
// display form. It is only populated when the caller asks for parsing.
type ExplicitInfo struct {
	ContentType         string
	SignedDataVersion   int
	DigestAlgorithmList []hash.Algorithm
	EncapContentType    string
	TSTInfoVersion      int
	Policy              string
	HashAlgorithm       hash.Algorithm
	HashValue           string
	SerialNumber        string
	IssuerRequestTime   int64
	IssuerAccuracy      int64
	Nonce               string
	IssuerName          string
	Certificate         string
	SignerInfoVersion   int
	CertIssuerName      string
	CertSerialNumber    string
	DigestAlgorithm     hash.Algorithm
	SignedAttrList      []SignedAttribute
	SignatureAlgorithm  string
	LocationList        []HashEntry
	HistoryList         []HashEntry
	PublicationID       int64
	PublicationHashAlg  hash.Algorithm
	PublicationHash     string
	PKIAlgorithm        string
	PKIValue            string
	KeyCommitmentRefs   []string
	PubReferences       []string
}

// certificateGroupLen is the dash-group size of the base-32 certificate
// dump.
const certificateGroupLen = 8

// hexColon renders bytes as colon-separated lowercase hex.
func hexColon(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}

// hashEntries renders a chain into display steps; a chain that does not
// parse renders as nil.
func hashEntries(chain []byte) []HashEntry {
	steps, err := hashchain.Parse(chain)
	if err != nil {
		return nil
	}
	entries := make([]HashEntry, len(steps))
	for i, step := range steps {
		entries[i] = HashEntry{
			Algorithm:   step.Algorithm,
			Direction:   int(step.Direction),
			SiblingHash: hexColon(step.Sibling),
			Level:       step.Level,
		}
	}
	return entries
}

// wireAlgorithm maps an OID to the wire algorithm id, or -1 when unknown.
func wireAlgorithm(alg pkix.AlgorithmIdentifier) hash.Algorithm {
	a, err := hash.FromOID(alg.Algorithm)
	if err != nil {
		return -1
	}
	return a
}

// buildExplicitInfo extracts the explicit data block. Recoverable oddities
// (unknown hash algorithm, negative serial) are recorded as syntactic
// failures in info; hard decode failures abort.
func (t *Timestamp) buildExplicitInfo(info *VerificationInfo) (*ExplicitInfo, error) {
	const op = "parse info"

	explicit := &ExplicitInfo{
		ContentType:      cmsSignedDataOID,
		EncapContentType: tstInfoOID,
	}

	explicit.SignedDataVersion = t.signedData.Version

	algs, err := t.signedData.DigestAlgorithmList()
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	for _, alg := range algs {
		explicit.DigestAlgorithmList = append(explicit.DigestAlgorithmList, wireAlgorithm(alg))
	}

	explicit.TSTInfoVersion = t.tstInfo.Version
	explicit.Policy = t.tstInfo.Policy.String()

	explicit.HashAlgorithm = wireAlgorithm(t.tstInfo.MessageImprint.HashAlgorithm)
	if explicit.HashAlgorithm < 0 {
		info.Errors |= SyntacticCheckFailure
	}
	explicit.HashValue = hexColon(t.tstInfo.MessageImprint.HashedMessage)

	if t.tstInfo.SerialNumber == nil || t.tstInfo.SerialNumber.Sign() < 0 {
		info.Errors |= SyntacticCheckFailure
	}
	if t.tstInfo.SerialNumber != nil {
		explicit.SerialNumber = hexColon(t.tstInfo.SerialNumber.Bytes())
	}

	genTime, err := t.tstInfo.GenTimeUnix()
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	explicit.IssuerRequestTime = genTime

	accuracy, err := t.tstInfo.Accuracy.Milliseconds()
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	explicit.IssuerAccuracy = accuracy

	if t.tstInfo.Nonce != nil {
		explicit.Nonce = hexColon(t.tstInfo.Nonce.Bytes())
	}
	explicit.IssuerName = t.tstInfo.TSAName()

	explicit.SignerInfoVersion = t.signerInfo.Version

	ias, err := t.signerInfo.IssuerAndSerial()
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	var issuer pkix.RDNSequence
	if _, err := asn1.Unmarshal(ias.Issuer.FullBytes, &issuer); err == nil {
		var name pkix.Name
		name.FillFromRDNSequence(&issuer)
		explicit.CertIssuerName = name.String()
	}
	explicit.CertSerialNumber = hexColon(ias.SerialNumber.Bytes())

	explicit.DigestAlgorithm = wireAlgorithm(t.signerInfo.DigestAlgorithm)

	attrs, err := t.signerInfo.SignedAttributes()
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	for _, attr := range attrs {
		var value []byte
		for _, v := range attr.Values {
			value = append(value, v.FullBytes...)
		}
		explicit.SignedAttrList = append(explicit.SignedAttrList, SignedAttribute{
			Type:  attr.Type.String(),
			Value: hexColon(value),
		})
	}

	explicit.SignatureAlgorithm = t.signerInfo.DigestEncAlgorithm.Algorithm.String()

	explicit.LocationList = hashEntries(t.timeSig.Location)
	explicit.HistoryList = hashEntries(t.timeSig.History)

	pd := &t.timeSig.PublishedData
	if pd.Identifier > 1<<62 {
		return nil, errorf(op, CodeInvalidFormat, "publication identifier out of range")
	}
	explicit.PublicationID = int64(pd.Identifier)
	if len(pd.Imprint) < 1 {
		return nil, errorf(op, CodeInvalidFormat, "empty publication imprint")
	}
	explicit.PublicationHashAlg = hash.Algorithm(pd.Imprint[0])
	explicit.PublicationHash = hexColon(pd.Imprint[1:])

	if sig := t.timeSig.PKSignature; sig != nil {
		explicit.PKIAlgorithm = sig.SignatureAlgorithm.Algorithm.String()
		explicit.PKIValue = hexColon(sig.SignatureValue)
		for _, ref := range sig.KeyCommitmentRef {
			explicit.KeyCommitmentRefs = append(explicit.KeyCommitmentRefs, renderReference(ref))
		}
	}
	for _, ref := range t.timeSig.PubReference {
		explicit.PubReferences = append(explicit.PubReferences, renderReference(ref))
	}

	return explicit, nil
}

// fillCertificateInfo adds the certificate-derived explicit fields once the
// signer certificate has been located.
func (t *Timestamp) fillCertificateInfo(explicit *ExplicitInfo, cert *x509.Certificate) {
	explicit.Certificate = base32.Encode(cert.Raw, certificateGroupLen)
	if sig := t.timeSig.PKSignature; sig != nil {
		explicit.PKIAlgorithm = sig.SignatureAlgorithm.Algorithm.String()
	}
}

// Dotted OID constants for display.
const (
	cmsSignedDataOID = "1.2.840.113549.1.7.2"
	tstInfoOID       = "1.2.840.113549.1.9.16.1.4"
)
