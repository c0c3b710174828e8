package timestamp

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/openkeyless/timesig/internal/cms"
	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/hashchain"
)

// =============================================================================
// DER assembly helpers
// =============================================================================

func mustMarshal(t testing.TB, v any) []byte {
	t.Helper()
	der, err := asn1.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %T: %v", v, err)
	}
	return der
}

// tlv wraps body in a tag-length-value header.
func tlv(tag byte, body []byte) []byte {
	var header []byte
	n := len(body)
	switch {
	case n < 0x80:
		header = []byte{tag, byte(n)}
	case n < 0x100:
		header = []byte{tag, 0x81, byte(n)}
	default:
		header = []byte{tag, 0x82, byte(n >> 8), byte(n)}
	}
	return append(header, body...)
}

var sha256AlgID = pkix.AlgorithmIdentifier{
	Algorithm:  asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1},
	Parameters: asn1.NullRawValue,
}

// =============================================================================
// Signer key and certificate, generated once per test binary
// =============================================================================

var (
	signerOnce sync.Once
	signerKey  *rsa.PrivateKey
	signerCert *x509.Certificate
)

func testSigner(t testing.TB) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	signerOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		template := &x509.Certificate{
			SerialNumber: big.NewInt(0x1447),
			Subject:      pkix.Name{CommonName: "Test Gateway", Organization: []string{"Timesig Test"}},
			NotBefore:    time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
			NotAfter:     time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC),
			KeyUsage:     x509.KeyUsageDigitalSignature,
		}
		der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
		if err != nil {
			panic(err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			panic(err)
		}
		signerKey, signerCert = key, cert
	})
	return signerKey, signerCert
}

// =============================================================================
// Calendar tree fixture
//
// The calendar covers rounds [0, pubTime]; leaf t carries the aggregate of
// round t. Paths through the tree follow the same construction the decoder
// assumes: the left subtree of a node over [lo, hi] is the complete tree
// over the largest power-of-two prefix.
// =============================================================================

type calendarTree struct {
	alg    hash.Algorithm
	leaves []hashchain.Imprint
	memo   map[[2]int]hashchain.Imprint
}

func newCalendarTree(t testing.TB, alg hash.Algorithm, pubTime int) *calendarTree {
	return newCalendarTreeSeed(t, alg, pubTime, 0x6c)
}

func newCalendarTreeSeed(t testing.TB, alg hash.Algorithm, pubTime int, seed byte) *calendarTree {
	t.Helper()
	leaves := make([]hashchain.Imprint, pubTime+1)
	for i := range leaves {
		digest := sha256.Sum256([]byte{byte(i), byte(i >> 8), byte(i >> 16), seed})
		leaves[i] = hashchain.NewImprint(alg, digest[:])
	}
	return &calendarTree{alg: alg, leaves: leaves, memo: map[[2]int]hashchain.Imprint{}}
}

func hibit(v int) int {
	h := 1
	for h <= v/2 {
		h <<= 1
	}
	return h
}

func (c *calendarTree) node(t testing.TB, lo, hi int) hashchain.Imprint {
	t.Helper()
	if lo == hi {
		return c.leaves[lo]
	}
	if im, ok := c.memo[[2]int{lo, hi}]; ok {
		return im
	}
	h := hibit(hi - lo)
	left := c.node(t, lo, lo+h-1)
	right := c.node(t, lo+h, hi)
	im, err := hashchain.Compute(c.alg, append(append([]byte{}, left...), right...))
	if err != nil {
		t.Fatalf("calendar node: %v", err)
	}
	c.memo[[2]int{lo, hi}] = im
	return im
}

// root returns the calendar root imprint.
func (c *calendarTree) root(t testing.TB) hashchain.Imprint {
	return c.node(t, 0, len(c.leaves)-1)
}

// path returns the history chain for leaf round, ordered leaf to root.
func (c *calendarTree) path(t testing.TB, round int) []byte {
	t.Helper()
	var chain []byte
	var walk func(lo, hi int)
	walk = func(lo, hi int) {
		if lo == hi {
			return
		}
		h := hibit(hi - lo)
		if round < lo+h {
			walk(lo, lo+h-1)
			chain = hashchain.Append(chain, hashchain.Step{
				Direction: 0,
				Algorithm: c.alg,
				Sibling:   c.node(t, lo+h, hi).Digest(),
			})
		} else {
			walk(lo+h, hi)
			chain = hashchain.Append(chain, hashchain.Step{
				Direction: 1,
				Algorithm: c.alg,
				Sibling:   c.node(t, lo, lo+h-1).Digest(),
			})
		}
	}
	walk(0, len(c.leaves)-1)
	return chain
}

// =============================================================================
// Location chain fixture
//
// A full chain from a named client through local, state and national
// aggregators into hasher 1. The decoded position is fixed:
//
//	client_id=1, local: machine 3 slot 1 cluster 1, state: machine 6
//	slot 2 cluster 1, national: machine 5 slot 4 cluster 3, hasher 1
//
// so location_id = 3<<48 | 1<<32 | 1<<16 | 1.
// =============================================================================

const testLocationID = uint64(3)<<48 | uint64(1)<<32 | uint64(1)<<16 | 1

const testLocationName = "National AS : State AS : Local AS : client-7"

// nameSibling builds the SHA-224 sibling of an embedded name tag.
func nameSibling(name string) []byte {
	sibling := make([]byte, hash.SHA224.Size())
	sibling[1] = byte(len(name))
	copy(sibling[2:], name)
	return sibling
}

func fillSibling(seed byte, alg hash.Algorithm) []byte {
	digest := sha256.Sum256([]byte{seed, 0x51})
	return digest[:alg.Size()]
}

// testLocationChain builds the standard location chain fixture. Every step
// hashes with SHA-256 except the SHA-224 name tags.
func testLocationChain() []byte {
	type spec struct {
		dir   byte
		alg   hash.Algorithm
		name  string
		level int
	}
	specs := []spec{
		{1, hash.SHA224, "client-7", 1},
		{0, hash.SHA256, "", 2},
		{1, hash.SHA256, "", 3},
		{1, hash.SHA224, "Local AS", 10},
		{0, hash.SHA256, "", 12},
		{1, hash.SHA256, "", 14},
		{0, hash.SHA256, "", 16},
		{0, hash.SHA256, "", 18},
		{0, hash.SHA256, "", 23},
		{1, hash.SHA224, "State AS", 30},
		{1, hash.SHA256, "", 32},
		{0, hash.SHA256, "", 34},
		{1, hash.SHA256, "", 36},
		{0, hash.SHA256, "", 38},
		{0, hash.SHA256, "", 40},
		{0, hash.SHA256, "", 43},
		{1, hash.SHA224, "National AS", 50},
		{1, hash.SHA256, "", 52},
		{1, hash.SHA256, "", 54},
		{0, hash.SHA256, "", 56},
		{0, hash.SHA256, "", 58},
		{1, hash.SHA256, "", 60},
		{0, hash.SHA256, "", 62},
		{0, hash.SHA256, "", 65},
		{0, hash.SHA256, "", 70},
		{1, hash.SHA256, "", 81},
	}

	var chain []byte
	for i, s := range specs {
		sibling := fillSibling(byte(i), s.alg)
		if s.name != "" {
			sibling = nameSibling(s.name)
		}
		chain = hashchain.Append(chain, hashchain.Step{
			Direction: s.dir,
			Algorithm: s.alg,
			Sibling:   sibling,
			Level:     s.level,
		})
	}
	return chain
}

// =============================================================================
// Token builder
// =============================================================================

type tokenFixture struct {
	// pubTime and round pin the calendar geometry.
	pubTime int
	round   int
	// document the token commits to.
	document []byte
	// corruptImprint flips one bit of the publication imprint before the
	// PKI signature is produced.
	corruptImprint bool
	// extended produces a hash-linked token directly.
	extended bool
	// pubReference is attached to extended tokens.
	pubReference [][]byte
}

type builtToken struct {
	der      []byte
	tree     *calendarTree
	location []byte
	docHash  *hash.DataHash
	pub      PublishedData
}

// buildToken assembles a complete, internally consistent token: TSTInfo
// over the document, signed attributes over the TSTInfo, location chain
// folding the attributes into the fixture round, history chain connecting
// the round to the calendar root, and (for short-term tokens) an RSA
// signature over the published data with the certificate included.
func buildToken(t testing.TB, fx tokenFixture) *builtToken {
	t.Helper()
	key, cert := testSigner(t)

	if fx.document == nil {
		fx.document = []byte("the quick brown fox")
	}
	if fx.pubTime == 0 {
		fx.pubTime = 100
	}

	docHash, err := hash.Create(hash.SHA256, fx.document)
	if err != nil {
		t.Fatalf("hash document: %v", err)
	}

	// TSTInfo and the signed attributes over it.
	genTime := "20240315120000Z"
	tstInfo := TSTInfo{
		Version: 1,
		Policy:  asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 27868, 2, 1},
		MessageImprint: MessageImprint{
			HashAlgorithm: sha256AlgID,
			HashedMessage: docHash.Digest,
		},
		SerialNumber: big.NewInt(987654321),
		GenTime: asn1.RawValue{
			Class:     asn1.ClassUniversal,
			Tag:       24,
			Bytes:     []byte(genTime),
			FullBytes: append([]byte{0x18, byte(len(genTime))}, genTime...),
		},
	}
	tstInfoDER := mustMarshal(t, tstInfo)
	tstDigest := sha256.Sum256(tstInfoDER)

	ctAttr := mustMarshal(t, cms.Attribute{
		Type:   cms.OIDContentType,
		Values: []asn1.RawValue{{FullBytes: mustMarshal(t, cms.OIDTSTInfo)}},
	})
	mdAttr := mustMarshal(t, cms.Attribute{
		Type:   cms.OIDMessageDigest,
		Values: []asn1.RawValue{{FullBytes: mustMarshal(t, tstDigest[:])}},
	})
	authAttrs := tlv(0xa0, append(ctAttr, mdAttr...))

	// Aggregation: signed attributes -> location chain -> calendar.
	attrsInput, err := hashchain.Compute(hash.SHA256, tlv(0x31, append(ctAttr, mdAttr...)))
	if err != nil {
		t.Fatalf("hash attributes: %v", err)
	}

	location := testLocationChain()
	leaf, err := hashchain.Calculate(location, attrsInput)
	if err != nil {
		t.Fatalf("fold location chain: %v", err)
	}

	tree := newCalendarTree(t, hash.SHA256, fx.pubTime)
	tree.leaves[fx.round] = leaf
	tree.memo = map[[2]int]hashchain.Imprint{}
	history := tree.path(t, fx.round)

	pubImprint, err := hashchain.Compute(hash.SHA256, tree.root(t))
	if err != nil {
		t.Fatalf("publication imprint: %v", err)
	}
	if fx.corruptImprint {
		pubImprint[len(pubImprint)-1] ^= 0x01
	}
	pub := PublishedData{Identifier: uint64(fx.pubTime), Imprint: pubImprint}

	timeSig := TimeSignature{
		Location:      location,
		History:       history,
		PublishedData: pub,
	}
	if fx.extended {
		timeSig.PubReference = fx.pubReference
	} else {
		pubDER, err := marshalPublishedData(&pub)
		if err != nil {
			t.Fatalf("marshal published data: %v", err)
		}
		pubDigest := sha256.Sum256(pubDER)
		sigValue, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, pubDigest[:])
		if err != nil {
			t.Fatalf("sign published data: %v", err)
		}
		timeSig.PKSignature = &SignatureInfo{
			SignatureAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  cms.OIDSHA256WithRSA,
				Parameters: asn1.NullRawValue,
			},
			SignatureValue:   sigValue,
			KeyCommitmentRef: [][]byte{append([]byte{0, 1}, "https://verify.example/keys"...)},
		}
	}
	encDigest, err := marshalTimeSignature(&timeSig)
	if err != nil {
		t.Fatalf("marshal time signature: %v", err)
	}

	signerInfo := cms.SignerInfo{
		Version: 1,
		SID: asn1.RawValue{FullBytes: mustMarshal(t, cms.IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
			SerialNumber: cert.SerialNumber,
		})},
		DigestAlgorithm: sha256AlgID,
		AuthAttrs:       asn1.RawValue{FullBytes: authAttrs},
		DigestEncAlgorithm: pkix.AlgorithmIdentifier{
			Algorithm:  cms.OIDTimeSignature,
			Parameters: asn1.NullRawValue,
		},
		EncryptedDigest: encDigest,
	}

	signedData := cms.SignedData{
		Version:          3,
		DigestAlgorithms: asn1.RawValue{FullBytes: tlv(0x31, mustMarshal(t, sha256AlgID))},
		EncapContentInfo: asn1.RawValue{FullBytes: tlv(0x30,
			append(mustMarshal(t, cms.OIDTSTInfo), tlv(0xa0, mustMarshal(t, tstInfoDER))...))},
		SignerInfos: []cms.SignerInfo{signerInfo},
	}
	if !fx.extended {
		signedData.Certificates = asn1.RawValue{FullBytes: tlv(0xa0, cert.Raw)}
	}

	der, err := signedData.Marshal()
	if err != nil {
		t.Fatalf("marshal token: %v", err)
	}

	return &builtToken{
		der:      der,
		tree:     tree,
		location: location,
		docHash:  docHash,
		pub:      pub,
	}
}

func decodeToken(t testing.TB, fx tokenFixture) (*Timestamp, *builtToken) {
	t.Helper()
	built := buildToken(t, fx)
	ts, err := Decode(built.der)
	if err != nil {
		t.Fatalf("decode fixture token: %v", err)
	}
	return ts, built
}

// buildExtensionResponse produces a granted cert token response extending
// the given fixture to newPubTime. The new calendar shares the old rounds,
// so the anchors agree.
func buildExtensionResponse(t testing.TB, built *builtToken, round, newPubTime int) []byte {
	t.Helper()

	tree := newCalendarTree(t, hash.SHA256, newPubTime)
	copy(tree.leaves, built.tree.leaves)
	history := tree.path(t, round)

	pubImprint, err := hashchain.Compute(hash.SHA256, tree.root(t))
	if err != nil {
		t.Fatalf("publication imprint: %v", err)
	}

	pd := PublishedData{Identifier: uint64(newPubTime), Imprint: pubImprint}
	return buildCertTokenResponse(t, history, &pd, statusGranted)
}

// buildCertTokenResponse assembles the raw DER of a cert token response.
func buildCertTokenResponse(t testing.TB, history []byte, pd *PublishedData, status int) []byte {
	t.Helper()

	ref := append([]byte{0, 1}, "Financial Times 2024-03-20"...)
	inner := append([]byte{}, mustMarshal(t, 1)...)
	inner = append(inner, mustMarshal(t, history)...)
	inner = append(inner, mustMarshal(t, pd.asn())...)
	inner = append(inner, tlv(0x31, mustMarshal(t, ref))...)

	statusDER := mustMarshal(t, pkiStatusInfoASN{Status: status})
	body := append(statusDER, tlv(0xa0, inner)...)
	return tlv(0x30, body)
}

// buildRejection assembles a response whose status carries the given
// failure-info bit.
func buildRejection(t testing.TB, bit int) []byte {
	t.Helper()
	raw := make([]byte, bit/8+1)
	raw[bit/8] = 1 << uint(7-bit%8)
	statusDER := mustMarshal(t, pkiStatusInfoASN{
		Status:   statusRejection,
		FailInfo: asn1.BitString{Bytes: raw, BitLength: bit + 1},
	})
	return tlv(0x30, statusDER)
}

// buildTimestampResponse wraps a token DER into a granted TimeStampResp.
func buildTimestampResponse(t testing.TB, status int, tokenDER []byte) []byte {
	t.Helper()
	statusDER := mustMarshal(t, pkiStatusInfoASN{Status: status})
	return tlv(0x30, append(statusDER, tokenDER...))
}

// memorySource is an in-memory publications oracle for tests.
type memorySource struct {
	published map[uint64]*PublishedData
	keyHashes []KeyHash
}

func (m *memorySource) PublishedData(id uint64) (*PublishedData, error) {
	if pd, ok := m.published[id]; ok {
		return pd, nil
	}
	return nil, ErrPublicationNotFound
}

func (m *memorySource) KeyHashes() []KeyHash { return m.keyHashes }
