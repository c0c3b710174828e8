package timestamp

import (
	"strings"
	"testing"

	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

func TestPublicationStringRoundTrip(t *testing.T) {
	pd := &PublishedData{
		Identifier: 1395090000,
		Imprint:    hashchain.NewImprint(hash.SHA256, fillSibling(0x42, hash.SHA256)),
	}

	s := pd.String()
	if s == "" {
		t.Fatal("empty publication string")
	}
	// Group separators every 6 characters.
	if !strings.Contains(s, "-") {
		t.Fatalf("publication string %q has no group separators", s)
	}

	back, err := ParsePublicationString(s)
	if err != nil {
		t.Fatalf("ParsePublicationString: %v", err)
	}
	if !back.Equal(pd) {
		t.Fatalf("round trip changed the data: %v vs %v", back, pd)
	}
}

func TestParsePublicationStringChecksum(t *testing.T) {
	pd := &PublishedData{
		Identifier: 1395090000,
		Imprint:    hashchain.NewImprint(hash.SHA256, fillSibling(0x42, hash.SHA256)),
	}
	s := pd.String()

	// Swap one payload character; the CRC must catch it.
	swapped := []byte(s)
	if swapped[0] != 'A' {
		swapped[0] = 'A'
	} else {
		swapped[0] = 'B'
	}
	_, err := ParsePublicationString(string(swapped))
	if got := CodeOf(err); got != CodeInvalidFormat {
		t.Fatalf("code = %v, want INVALID_FORMAT", got)
	}
}

func TestParsePublicationStringRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		code Code
	}{
		{"empty", "", CodeInvalidFormat},
		{"too short", "AAAA", CodeInvalidFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePublicationString(tc.in)
			if got := CodeOf(err); got != tc.code {
				t.Fatalf("code = %v, want %v", got, tc.code)
			}
		})
	}
}
