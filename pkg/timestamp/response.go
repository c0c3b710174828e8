package timestamp

import (
	"encoding/asn1"
)

// PKI status values carried in gateway responses (RFC 3161 Section 2.4.2).
const (
	statusGranted                = 0
	statusGrantedWithMods        = 1
	statusRejection              = 2
	statusWaiting                = 3
	statusRevocationWarning      = 4
	statusRevocationNotification = 5
)

// PKI failure-info bits. The extension bits above 25 are not standard; they
// are used by gateways to postpone or refuse extension requests.
const (
	failBadAlg              = 0
	failBadRequest          = 2
	failBadDataFormat       = 5
	failUnacceptedPolicy    = 15
	failUnacceptedExtension = 16
	failSystemFailure       = 25
	failExtendLater         = 26
	failExtensionOverdue    = 27
)

type pkiStatusInfoASN struct {
	Status       int
	StatusString []string       `asn1:"optional,utf8"`
	FailInfo     asn1.BitString `asn1:"optional"`
}

type timeStampRespASN struct {
	Status         pkiStatusInfoASN
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

// analyseStatus maps a gateway status to a status code. A granted request
// maps to nil; anything else resolves through the failure-info bits.
func analyseStatus(op string, status *pkiStatusInfoASN) error {
	if status.Status == statusGranted || status.Status == statusGrantedWithMods {
		return nil
	}

	bit := func(n int) bool { return status.FailInfo.At(n) == 1 }
	code := CodeUnknownError
	switch {
	case bit(failBadAlg):
		code = CodePKIBadAlg
	case bit(failBadRequest):
		code = CodePKIBadRequest
	case bit(failBadDataFormat):
		code = CodePKIBadDataFormat
	case bit(failUnacceptedPolicy):
		code = CodeUnacceptedPolicy
	case bit(failUnacceptedExtension):
		code = CodeProtocolMismatch
	case bit(failSystemFailure):
		code = CodePKISystemFailure
	case bit(failExtendLater):
		code = CodeNonstdExtendLater
	case bit(failExtensionOverdue):
		code = CodeNonstdExtensionOverdue
	}

	if len(status.StatusString) > 0 {
		return errorf(op, code, "gateway refused request: %s", status.StatusString[0])
	}
	return errorf(op, code, "gateway refused request with status %d", status.Status)
}

// CreateTimestamp decodes a gateway timestamping response and adopts the
// enclosed token. No verification happens here; the verify path owns that.
func CreateTimestamp(response []byte) (*Timestamp, error) {
	const op = "create"

	if len(response) == 0 {
		return nil, errorf(op, CodeInvalidArgument, "empty response")
	}

	var resp timeStampRespASN
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
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, errorf(op, CodeInvalidFormat, "granted response carries no token")
	}

	return decode(op, resp.TimeStampToken.FullBytes)
}
