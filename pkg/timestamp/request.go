package timestamp

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"

	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

type timeStampReqASN struct {
	Version        int
	MessageImprint MessageImprint
}

type certTokenRequestASN struct {
	Version           int
	HistoryIdentifier *big.Int
}

// PrepareTimestampRequest builds the DER request for stamping the given
// document hash. The gateway chooses policy and round; the request carries
// only the protocol version and the message imprint.
func PrepareTimestampRequest(dh *hash.DataHash) ([]byte, error) {
	const op = "prepare request"

	if dh == nil {
		return nil, errorf(op, CodeInvalidArgument, "nil document hash")
	}
	if dh.Streaming() {
		return nil, errorf(op, CodeInvalidArgument, "document hash is still open")
	}
	if len(dh.Digest) == 0 || len(dh.Digest) != dh.Algorithm.Size() {
		return nil, errorf(op, CodeInvalidArgument, "digest size %d does not match %v", len(dh.Digest), dh.Algorithm)
	}

	oid, err := dh.Algorithm.OID()
	if err != nil {
		return nil, newError(op, CodeUntrustedHashAlgorithm, err)
	}

	req := timeStampReqASN{
		Version: 1,
		MessageImprint: MessageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  oid,
				Parameters: asn1.NullRawValue,
			},
			HashedMessage: dh.Digest,
		},
	}

	der, err := asn1.Marshal(req)
	if err != nil {
		return nil, newError(op, CodeCryptoFailure, err)
	}
	return der, nil
}

// PrepareExtensionRequest builds the DER request for extending this
// timestamp: the history identifier recovered from the chain shape names
// the aggregation round the gateway must produce a cert token for.
func (t *Timestamp) PrepareExtensionRequest() ([]byte, error) {
	const op = "prepare extension request"

	id, err := hashchain.HistoryIdentifierOf(t.timeSig.PublishedData.Identifier, t.timeSig.History)
	if err != nil {
		return nil, newError(op, historyCode(err), err)
	}

	req := certTokenRequestASN{
		Version:           1,
		HistoryIdentifier: new(big.Int).SetUint64(id),
	}

	der, err := asn1.Marshal(req)
	if err != nil {
		return nil, newError(op, CodeCryptoFailure, err)
	}
	return der, nil
}
