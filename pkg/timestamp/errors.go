// Package timestamp implements the client side of keyless timestamps:
// request preparation, token decoding, extension and the verification
// engine.
package timestamp

import (
	"errors"
	"fmt"
)

// Code is a stable status code. Codes are grouped into syntax (0x1xx),
// semantic (0x2xx) and system (0x3xx) ranges; the grouping is part of the
// public contract.
type Code int

// Syntax codes.
const (
	CodeInvalidArgument Code = 0x100 + iota
	CodeInvalidFormat
	CodeUntrustedHashAlgorithm
	CodeUntrustedSignatureAlgorithm
	CodeInvalidLinkingInfo
	CodeUnsupportedFormat
	CodeDifferentHashAlgorithms
	CodePKIBadAlg
	CodePKIBadRequest
	CodePKIBadDataFormat
	CodeProtocolMismatch
	CodeNonstdExtendLater
	CodeNonstdExtensionOverdue
	CodeUnacceptedPolicy
)

// Semantic codes.
const (
	CodeWrongDocument Code = 0x200 + iota
	CodeWrongSizeOfHistory
	CodeRequestTimeMismatch
	CodeInvalidLengthBytes
	CodeInvalidAggregation
	CodeInvalidSignature
	CodeWrongSignedData
	CodeTrustPointNotFound
	CodeInvalidTrustPoint
	CodeCannotExtend
	CodeAlreadyExtended
	CodeKeyNotPublished
	CodeCertTicketTooOld
	CodeCertNotTrusted
)

// System codes.
const (
	CodeOutOfMemory Code = 0x300 + iota
	CodeIOError
	CodeTimeOverflow
	CodeCryptoFailure
	CodePKISystemFailure
	CodeUnknownError
)

var codeStrings = map[Code]string{
	CodeInvalidArgument:             "INVALID_ARGUMENT",
	CodeInvalidFormat:               "INVALID_FORMAT",
	CodeUntrustedHashAlgorithm:      "UNTRUSTED_HASH_ALGORITHM",
	CodeUntrustedSignatureAlgorithm: "UNTRUSTED_SIGNATURE_ALGORITHM",
	CodeInvalidLinkingInfo:          "INVALID_LINKING_INFO",
	CodeUnsupportedFormat:           "UNSUPPORTED_FORMAT",
	CodeDifferentHashAlgorithms:     "DIFFERENT_HASH_ALGORITHMS",
	CodePKIBadAlg:                   "PKI_BAD_ALG",
	CodePKIBadRequest:               "PKI_BAD_REQUEST",
	CodePKIBadDataFormat:            "PKI_BAD_DATA_FORMAT",
	CodeProtocolMismatch:            "PROTOCOL_MISMATCH",
	CodeNonstdExtendLater:           "NONSTD_EXTEND_LATER",
	CodeNonstdExtensionOverdue:      "NONSTD_EXTENSION_OVERDUE",
	CodeUnacceptedPolicy:            "UNACCEPTED_POLICY",
	CodeWrongDocument:               "WRONG_DOCUMENT",
	CodeWrongSizeOfHistory:          "WRONG_SIZE_OF_HISTORY",
	CodeRequestTimeMismatch:         "REQUEST_TIME_MISMATCH",
	CodeInvalidLengthBytes:          "INVALID_LENGTH_BYTES",
	CodeInvalidAggregation:          "INVALID_AGGREGATION",
	CodeInvalidSignature:            "INVALID_SIGNATURE",
	CodeWrongSignedData:             "WRONG_SIGNED_DATA",
	CodeTrustPointNotFound:          "TRUST_POINT_NOT_FOUND",
	CodeInvalidTrustPoint:           "INVALID_TRUST_POINT",
	CodeCannotExtend:                "CANNOT_EXTEND",
	CodeAlreadyExtended:             "ALREADY_EXTENDED",
	CodeKeyNotPublished:             "KEY_NOT_PUBLISHED",
	CodeCertTicketTooOld:            "CERT_TICKET_TOO_OLD",
	CodeCertNotTrusted:              "CERT_NOT_TRUSTED",
	CodeOutOfMemory:                 "OUT_OF_MEMORY",
	CodeIOError:                     "IO_ERROR",
	CodeTimeOverflow:                "TIME_OVERFLOW",
	CodeCryptoFailure:               "CRYPTO_FAILURE",
	CodePKISystemFailure:            "PKI_SYSTEM_FAILURE",
	CodeUnknownError:                "UNKNOWN_ERROR",
}

// String returns the conventional name of the code.
func (c Code) String() string {
	if s, ok := codeStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(0x%x)", int(c))
}

// Syntax reports whether the code belongs to the syntax range.
func (c Code) Syntax() bool { return c >= 0x100 && c < 0x200 }

// Semantic reports whether the code belongs to the semantic range.
func (c Code) Semantic() bool { return c >= 0x200 && c < 0x300 }

// System reports whether the code belongs to the system range.
func (c Code) System() bool { return c >= 0x300 && c < 0x400 }

// Error is the error type of this package: an operation name, a status code
// and an optional cause. CodeOf reads the code from an error chain; Unwrap
// exposes the cause to errors.Is and errors.As.
type Error struct {
	Op   string
	Code Code
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("timestamp %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("timestamp %s: %s", e.Op, e.Code)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

func errorf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the status code from an error chain. A nil error maps to
// 0; an error without an embedded code maps to CodeUnknownError.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknownError
}

// ErrorFlags is the bitmap of failed verification sub-checks. The zero
// value means every performed check passed.
type ErrorFlags int

// Verification failure flags.
const (
	NoFailures                   ErrorFlags = 0
	SyntacticCheckFailure        ErrorFlags = 1
	HashchainVerificationFailure ErrorFlags = 2
	PublicKeySignatureFailure    ErrorFlags = 16
	NotValidPublicKeyFailure     ErrorFlags = 64
	WrongDocumentFailure         ErrorFlags = 128
	NotValidPublication          ErrorFlags = 256
)

// StatusFlags is the bitmap of verification checks that were performed or
// properties that were observed.
type StatusFlags int

// Verification status flags.
const (
	PublicKeySignaturePresent   StatusFlags = 1
	PublicationReferencePresent StatusFlags = 2
	DocumentHashChecked         StatusFlags = 16
	PublicationChecked          StatusFlags = 32
)
