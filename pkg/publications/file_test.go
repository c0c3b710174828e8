package publications

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
	"github.com/openkeyless/timesig/pkg/timestamp"
)

// buildFile assembles a minimal publications file: header, publication
// cells, key-hash cells, an empty reference block and an empty signature
// block.
func buildFile(t testing.TB, pubs []Publication, keys []timestamp.KeyHash) []byte {
	t.Helper()

	const cellSize = 8 + 1 + 32 // id + sha256 imprint
	dataBlockBegin := headerLength
	keyHashesBegin := dataBlockBegin + len(pubs)*cellSize
	pubReferenceBegin := keyHashesBegin + len(keys)*cellSize
	signatureBlockBegin := pubReferenceBegin

	out := make([]byte, headerLength)
	binary.BigEndian.PutUint16(out[offVersion:], currentVersion)
	if len(pubs) > 0 {
		binary.BigEndian.PutUint64(out[offFirstPublicationID:], pubs[0].Identifier)
	}
	binary.BigEndian.PutUint32(out[offDataBlockBegin:], uint32(dataBlockBegin))
	binary.BigEndian.PutUint16(out[offPublicationCellSize:], cellSize)
	binary.BigEndian.PutUint32(out[offNumberOfPublications:], uint32(len(pubs)))
	binary.BigEndian.PutUint32(out[offKeyHashesBegin:], uint32(keyHashesBegin))
	binary.BigEndian.PutUint16(out[offKeyHashCellSize:], cellSize)
	binary.BigEndian.PutUint16(out[offNumberOfKeyHashes:], uint16(len(keys)))
	binary.BigEndian.PutUint32(out[offPubReferenceBegin:], uint32(pubReferenceBegin))
	binary.BigEndian.PutUint32(out[offSignatureBlockBegin:], uint32(signatureBlockBegin))

	for _, pub := range pubs {
		out = binary.BigEndian.AppendUint64(out, pub.Identifier)
		out = append(out, pub.Imprint...)
	}
	for _, key := range keys {
		out = binary.BigEndian.AppendUint64(out, uint64(key.PublicationTime))
		out = append(out, key.Imprint...)
	}

	return out
}

func imprint(seed byte) hashchain.Imprint {
	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = seed
	}
	return hashchain.NewImprint(hash.SHA256, digest)
}

func TestDecodeAndLookup(t *testing.T) {
	pubs := []Publication{
		{Identifier: 1395090000, Imprint: imprint(0x01)},
		{Identifier: 1397768400, Imprint: imprint(0x02)},
	}
	keys := []timestamp.KeyHash{
		{Imprint: imprint(0x03), PublicationTime: 1262304000},
	}

	f, err := Decode(buildFile(t, pubs, keys))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if f.FirstPublicationID != 1395090000 {
		t.Fatalf("first publication id = %d", f.FirstPublicationID)
	}
	if len(f.Publications) != 2 || len(f.KeyHashList) != 1 {
		t.Fatalf("decoded %d publications, %d key hashes", len(f.Publications), len(f.KeyHashList))
	}

	pd, err := f.PublishedData(1397768400)
	if err != nil {
		t.Fatalf("PublishedData: %v", err)
	}
	if pd.Identifier != 1397768400 || !pd.Imprint.Equal(imprint(0x02)) {
		t.Fatalf("wrong published data: %+v", pd)
	}

	if _, err := f.PublishedData(42); !errors.Is(err, timestamp.ErrPublicationNotFound) {
		t.Fatalf("missing publication err = %v", err)
	}

	khs := f.KeyHashes()
	if len(khs) != 1 || khs[0].PublicationTime != 1262304000 {
		t.Fatalf("key hashes = %+v", khs)
	}
}

func TestDecodeRejects(t *testing.T) {
	valid := buildFile(t,
		[]Publication{{Identifier: 1, Imprint: imprint(0x01)}},
		[]timestamp.KeyHash{{Imprint: imprint(0x02), PublicationTime: 1}})

	badVersion := append([]byte{}, valid...)
	badVersion[offVersion+1] = 9

	badOffset := append([]byte{}, valid...)
	binary.BigEndian.PutUint32(badOffset[offDataBlockBegin:], 4)

	badCount := append([]byte{}, valid...)
	binary.BigEndian.PutUint32(badCount[offNumberOfPublications:], 1000)

	badAlg := append([]byte{}, valid...)
	badAlg[headerLength+8] = 0x63

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:10]},
		{"wrong version", badVersion},
		{"data block inside header", badOffset},
		{"count overstates block", badCount},
		{"unknown imprint algorithm", badAlg},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); !errors.Is(err, ErrFormat) {
				t.Fatalf("err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestOracleInterface(t *testing.T) {
	var _ timestamp.PublicationSource = (*File)(nil)
}

func TestSignedPrefix(t *testing.T) {
	valid := buildFile(t, []Publication{{Identifier: 7, Imprint: imprint(0x0a)}}, nil)
	f, err := Decode(valid)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.SignedPrefix(), valid) {
		t.Fatal("signed prefix does not cover the whole unsigned file")
	}
	if len(f.SignatureBlock()) != 0 {
		t.Fatal("unexpected signature block")
	}
}
