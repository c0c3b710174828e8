// Package publications decodes the publications file and serves as the
// trust oracle timestamp verification consumes: published data by round
// identifier and the table of published gateway key hashes.
//
// The file is a packed big-endian structure: a fixed header, a block of
// publication cells, a block of key-hash cells, a UTF-8 reference block and
// a detached CMS signature over everything before it.
package publications

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
	"github.com/openkeyless/timesig/pkg/timestamp"
)

// ErrFormat is wrapped into every decode failure.
var ErrFormat = errors.New("malformed publications file")

// currentVersion is the only file format version this decoder understands.
const currentVersion = 1

// Header field offsets.
const (
	offVersion              = 0
	offFirstPublicationID   = 2
	offDataBlockBegin       = 10
	offPublicationCellSize  = 14
	offNumberOfPublications = 16
	offKeyHashesBegin       = 20
	offKeyHashCellSize      = 24
	offNumberOfKeyHashes    = 26
	offPubReferenceBegin    = 28
	offSignatureBlockBegin  = 32

	headerLength = 36
)

// Publication is one decoded publication cell.
type Publication struct {
	Identifier uint64
	Imprint    hashchain.Imprint
}

// File is a decoded publications file.
type File struct {
	data []byte

	FirstPublicationID uint64
	Publications       []Publication
	KeyHashList        []timestamp.KeyHash

	signatureBlockBegin int
}

// Decode parses a publications file from its binary form.
func Decode(data []byte) (*File, error) {
	if len(data) < headerLength {
		return nil, fmt.Errorf("%w: file shorter than header", ErrFormat)
	}

	version := int(binary.BigEndian.Uint16(data[offVersion:]))
	if version != currentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, version)
	}

	f := &File{
		data:               append([]byte(nil), data...),
		FirstPublicationID: binary.BigEndian.Uint64(data[offFirstPublicationID:]),
	}

	dataBlockBegin := int(int32(binary.BigEndian.Uint32(data[offDataBlockBegin:])))
	cellSize := int(binary.BigEndian.Uint16(data[offPublicationCellSize:]))
	numPublications := int(int32(binary.BigEndian.Uint32(data[offNumberOfPublications:])))
	keyHashesBegin := int(int32(binary.BigEndian.Uint32(data[offKeyHashesBegin:])))
	keyCellSize := int(binary.BigEndian.Uint16(data[offKeyHashCellSize:]))
	numKeyHashes := int(binary.BigEndian.Uint16(data[offNumberOfKeyHashes:]))
	pubReferenceBegin := int(int32(binary.BigEndian.Uint32(data[offPubReferenceBegin:])))
	f.signatureBlockBegin = int(int32(binary.BigEndian.Uint32(data[offSignatureBlockBegin:])))

	switch {
	case dataBlockBegin < headerLength || dataBlockBegin > len(data):
		return nil, fmt.Errorf("%w: data block offset out of range", ErrFormat)
	case keyHashesBegin < dataBlockBegin || keyHashesBegin > len(data):
		return nil, fmt.Errorf("%w: key hash block offset out of range", ErrFormat)
	case pubReferenceBegin < keyHashesBegin || pubReferenceBegin > len(data):
		return nil, fmt.Errorf("%w: reference block offset out of range", ErrFormat)
	case f.signatureBlockBegin < pubReferenceBegin || f.signatureBlockBegin > len(data):
		return nil, fmt.Errorf("%w: signature block offset out of range", ErrFormat)
	// A cell must at least hold the 8-byte identifier and one imprint
	// algorithm byte.
	case cellSize < 9 || keyCellSize < 9 || numPublications < 0:
		return nil, fmt.Errorf("%w: bad block geometry", ErrFormat)
	}

	// Guard against geometry overstating the block contents.
	if (keyHashesBegin-dataBlockBegin)/cellSize < numPublications {
		return nil, fmt.Errorf("%w: publication block too small for %d cells", ErrFormat, numPublications)
	}
	if (f.signatureBlockBegin-keyHashesBegin)/keyCellSize < numKeyHashes {
		return nil, fmt.Errorf("%w: key hash block too small for %d cells", ErrFormat, numKeyHashes)
	}

	for i := 0; i < numPublications; i++ {
		cell := data[dataBlockBegin+i*cellSize:]
		imprint, err := readImprint(cell[8:], cellSize-8)
		if err != nil {
			return nil, err
		}
		f.Publications = append(f.Publications, Publication{
			Identifier: binary.BigEndian.Uint64(cell),
			Imprint:    imprint,
		})
	}

	for i := 0; i < numKeyHashes; i++ {
		cell := data[keyHashesBegin+i*keyCellSize:]
		imprint, err := readImprint(cell[8:], keyCellSize-8)
		if err != nil {
			return nil, err
		}
		f.KeyHashList = append(f.KeyHashList, timestamp.KeyHash{
			Imprint:         imprint,
			PublicationTime: int64(binary.BigEndian.Uint64(cell)),
		})
	}

	return f, nil
}

// readImprint decodes one data imprint out of a cell, checking that the
// cell is wide enough for the advertised algorithm.
func readImprint(cell []byte, room int) (hashchain.Imprint, error) {
	if room < 1 || len(cell) < 1 {
		return nil, fmt.Errorf("%w: empty imprint cell", ErrFormat)
	}
	alg := hash.Algorithm(cell[0])
	if !hash.Supported(alg) {
		return nil, fmt.Errorf("%w: unknown algorithm id %d", ErrFormat, cell[0])
	}
	size := 1 + alg.Size()
	if room < size || len(cell) < size {
		return nil, fmt.Errorf("%w: cell too small for %v imprint", ErrFormat, alg)
	}
	return hashchain.Imprint(append([]byte(nil), cell[:size]...)), nil
}

// PublishedData implements timestamp.PublicationSource.
func (f *File) PublishedData(identifier uint64) (*timestamp.PublishedData, error) {
	for _, pub := range f.Publications {
		if pub.Identifier == identifier {
			return &timestamp.PublishedData{
				Identifier: pub.Identifier,
				Imprint:    pub.Imprint,
			}, nil
		}
	}
	return nil, timestamp.ErrPublicationNotFound
}

// KeyHashes implements timestamp.PublicationSource.
func (f *File) KeyHashes() []timestamp.KeyHash {
	return f.KeyHashList
}

// SignedPrefix returns the region of the file the signature block covers.
func (f *File) SignedPrefix() []byte {
	return f.data[:f.signatureBlockBegin]
}

// SignatureBlock returns the detached CMS signature appended to the file.
func (f *File) SignatureBlock() []byte {
	return f.data[f.signatureBlockBegin:]
}
