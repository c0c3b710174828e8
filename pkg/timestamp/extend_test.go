package timestamp

import (
	"bytes"
	"testing"

	"github.com/openkeyless/timesig/pkg/hashchain"
)

func TestExtendEndToEnd(t *testing.T) {
	ts, built := decodeToken(t, tokenFixture{round: 57, pubTime: 100})
	response := buildExtensionResponse(t, built, 57, 150)

	before := ts.Encode()

	extended, err := ts.CreateExtendedTimestamp(response)
	if err != nil {
		t.Fatalf("CreateExtendedTimestamp: %v", err)
	}

	if !bytes.Equal(ts.Encode(), before) {
		t.Fatal("extension mutated the input timestamp")
	}
	if !extended.Extended() {
		t.Fatal("extended token still reports a PKI signature")
	}
	if extended.TimeSignature().PublishedData.Identifier != 150 {
		t.Fatalf("publication id = %d, want 150", extended.TimeSignature().PublishedData.Identifier)
	}
	if cert, err := extended.signerCertificate(); err != nil || cert != nil {
		t.Fatalf("certificate bag survived extension (cert=%v, err=%v)", cert, err)
	}

	info, err := extended.Verify(false)
	if err != nil {
		t.Fatalf("Verify extended: %v", err)
	}
	if info.Errors != NoFailures {
		t.Fatalf("errors bitmap = %d, want 0", info.Errors)
	}
	if info.Status&PublicKeySignaturePresent != 0 {
		t.Fatal("PUBLIC_KEY_SIGNATURE_PRESENT still set after extension")
	}
	if info.Implicit.RegisteredTime != 57 {
		t.Fatalf("registered time changed to %d", info.Implicit.RegisteredTime)
	}
	if info.Implicit.PublicationString == "" {
		t.Fatal("no publication string after extension")
	}

	// The extended token round-trips like any other.
	again, err := Decode(extended.Encode())
	if err != nil {
		t.Fatalf("re-decode extended token: %v", err)
	}
	if !bytes.Equal(again.Encode(), extended.Encode()) {
		t.Fatal("extended token does not round-trip")
	}
}

func TestExtendAlreadyExtended(t *testing.T) {
	ts, built := decodeToken(t, tokenFixture{round: 57, extended: true})
	response := buildExtensionResponse(t, built, 57, 150)

	_, err := ts.CreateExtendedTimestamp(response)
	if got := CodeOf(err); got != CodeAlreadyExtended {
		t.Fatalf("code = %v, want ALREADY_EXTENDED", got)
	}
}

func TestExtendWrongRound(t *testing.T) {
	ts, built := decodeToken(t, tokenFixture{round: 57, pubTime: 100})

	// A cert token for a different round must be rejected.
	response := buildExtensionResponse(t, built, 58, 150)
	_, err := ts.CreateExtendedTimestamp(response)
	if got := CodeOf(err); got != CodeCannotExtend {
		t.Fatalf("code = %v, want CANNOT_EXTEND", got)
	}
}

func TestExtendForeignHistory(t *testing.T) {
	ts, _ := decodeToken(t, tokenFixture{round: 57, pubTime: 100})

	// Same round number but a calendar built from unrelated leaves: the
	// anchors cannot match.
	foreign := newCalendarTreeSeed(t, ts.timeSig.PublishedData.Imprint.Algorithm(), 150, 0x99)
	history := foreign.path(t, 57)
	pubImprint, err := hashchain.Compute(foreign.alg, foreign.root(t))
	if err != nil {
		t.Fatal(err)
	}
	pd := PublishedData{Identifier: 150, Imprint: pubImprint}
	response := buildCertTokenResponse(t, history, &pd, statusGranted)

	_, err = ts.CreateExtendedTimestamp(response)
	if got := CodeOf(err); got != CodeCannotExtend {
		t.Fatalf("code = %v, want CANNOT_EXTEND", got)
	}
}

func TestExtendRefusedByGateway(t *testing.T) {
	ts, _ := decodeToken(t, tokenFixture{round: 57})

	tests := []struct {
		name string
		bit  int
		code Code
	}{
		{"extend later", failExtendLater, CodeNonstdExtendLater},
		{"extension overdue", failExtensionOverdue, CodeNonstdExtensionOverdue},
		{"bad request", failBadRequest, CodePKIBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			response := buildRejection(t, tc.bit)
			_, err := ts.CreateExtendedTimestamp(response)
			if got := CodeOf(err); got != tc.code {
				t.Fatalf("code = %v, want %v", got, tc.code)
			}
		})
	}
}

func TestExtendUnsupportedVersion(t *testing.T) {
	ts, built := decodeToken(t, tokenFixture{round: 57, pubTime: 100})

	tree := newCalendarTree(t, ts.timeSig.PublishedData.Imprint.Algorithm(), 150)
	copy(tree.leaves, built.tree.leaves)
	history := tree.path(t, 57)
	pd := PublishedData{Identifier: 150, Imprint: built.pub.Imprint}

	response := buildCertTokenResponse(t, history, &pd, statusGranted)
	// Patch the cert token version from 1 to 2: first INTEGER inside the
	// implicit [0].
	idx := bytesIndex(response, []byte{0x02, 0x01, 0x01})
	if idx < 0 {
		t.Fatal("version integer not found")
	}
	response[idx+2] = 0x02

	_, err := ts.CreateExtendedTimestamp(response)
	if got := CodeOf(err); got != CodeUnsupportedFormat {
		t.Fatalf("code = %v, want UNSUPPORTED_FORMAT", got)
	}
}
