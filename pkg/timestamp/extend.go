package timestamp

import (
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/openkeyless/timesig/internal/cms"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

type certTokenASN struct {
	Version       int
	History       []byte
	PublishedData publishedDataASN
	PubReference  asn1.RawValue    `asn1:"set"`
	Extensions    []pkix.Extension `asn1:"optional,tag:0"`
}

type certTokenResponseASN struct {
	Status    pkiStatusInfoASN
	CertToken asn1.RawValue `asn1:"optional,tag:0"`
}

// parseCertToken decodes the implicitly tagged cert token of an extension
// response.
func parseCertToken(raw asn1.RawValue) (*certTokenASN, error) {
	der := make([]byte, len(raw.FullBytes))
	copy(der, raw.FullBytes)
	der[0] = 0x30 // restore the SEQUENCE tag the implicit [0] replaced

	var token certTokenASN
	rest, err := asn1.Unmarshal(der, &token)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, asn1.SyntaxError{Msg: "trailing data after cert token"}
	}
	return &token, nil
}

// extendConsistencyCheck verifies that the cert token continues the same
// aggregation round this time signature belongs to: both history chains
// must decode to the same round, and they must agree on every anchor
// imprint they carry.
func extendConsistencyCheck(op string, sig *TimeSignature, token *certTokenASN, tokenPD *PublishedData) error {
	sigRound, err := hashchain.HistoryIdentifierOf(sig.PublishedData.Identifier, sig.History)
	if err != nil {
		return newError(op, historyCode(err), err)
	}
	tokenRound, err := hashchain.HistoryIdentifierOf(tokenPD.Identifier, token.History)
	if err != nil {
		return newError(op, historyCode(err), err)
	}
	if sigRound != tokenRound {
		return errorf(op, CodeCannotExtend, "cert token is for round %d, timestamp for round %d", tokenRound, sigRound)
	}

	sigAnchors, err := hashchain.AnchorImprints(sig.History)
	if err != nil {
		return newError(op, historyCode(err), err)
	}
	tokenAnchors, err := hashchain.AnchorImprints(token.History)
	if err != nil {
		return newError(op, historyCode(err), err)
	}
	if len(sigAnchors) != len(tokenAnchors) {
		return errorf(op, CodeCannotExtend, "history anchor count mismatch: %d vs %d", len(sigAnchors), len(tokenAnchors))
	}
	for i := range sigAnchors {
		if !sigAnchors[i].Equal(tokenAnchors[i]) {
			return errorf(op, CodeCannotExtend, "history anchor %d differs", i)
		}
	}

	return nil
}

// CreateExtendedTimestamp folds a gateway extension response into the given
// short-term timestamp, producing a new hash-linked timestamp. The input
// timestamp is never modified; on any failure nothing observable changes.
func (t *Timestamp) CreateExtendedTimestamp(response []byte) (*Timestamp, error) {
	const op = "extend"

	if len(response) == 0 {
		return nil, errorf(op, CodeInvalidArgument, "empty response")
	}
	if t.timeSig.PKSignature == nil {
		return nil, errorf(op, CodeAlreadyExtended, "timestamp is already hash-linked")
	}

	var resp certTokenResponseASN
	rest, err := asn1.Unmarshal(response, &resp)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	if len(rest) > 0 {
		return nil, errorf(op, CodeInvalidFormat, "trailing data after response")
	}

	if err := analyseStatus(op, &resp.Status); err != nil {
		return nil, err
	}
	if len(resp.CertToken.FullBytes) == 0 {
		return nil, errorf(op, CodeInvalidFormat, "granted response carries no cert token")
	}

	token, err := parseCertToken(resp.CertToken)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}
	if token.Version != 1 {
		return nil, errorf(op, CodeUnsupportedFormat, "cert token version %d", token.Version)
	}
	for _, ext := range token.Extensions {
		if ext.Critical {
			return nil, errorf(op, CodeUnsupportedFormat, "unknown critical extension %v", ext.Id)
		}
	}

	tokenPD, err := parsePublishedData(&token.PublishedData)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}

	if err := extendConsistencyCheck(op, t.timeSig, token, tokenPD); err != nil {
		return nil, err
	}

	pubRefs, err := parseOctetStrings(token.PubReference.Bytes)
	if err != nil {
		return nil, newError(op, CodeInvalidFormat, err)
	}

	extended := &TimeSignature{
		Location:      t.timeSig.Location,
		History:       token.History,
		PublishedData: *tokenPD,
		PubReference:  pubRefs,
	}
	encDigest, err := marshalTimeSignature(extended)
	if err != nil {
		return nil, newError(op, CodeCryptoFailure, err)
	}

	// Rebuild the token: same structure, new time signature, and no
	// certificate bag since the PKI signature is gone with it.
	signerInfo := *t.signerInfo
	signerInfo.EncryptedDigest = encDigest

	signedData := *t.signedData
	signedData.Certificates = asn1.RawValue{}
	signedData.SignerInfos = []cms.SignerInfo{signerInfo}

	der, err := signedData.Marshal()
	if err != nil {
		return nil, newError(op, CodeCryptoFailure, err)
	}

	return decode(op, der)
}
