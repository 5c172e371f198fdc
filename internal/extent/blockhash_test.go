package extent

import "testing"

func TestBlockHashZeroFastPathMatchesLiteralZeros(t *testing.T) {
	fast, err := NewBlockHash("sha256", 64)
	if err != nil {
		t.Fatal(err)
	}
	fast.Zero(64)

	literal, err := NewBlockHash("sha256", 64)
	if err != nil {
		t.Fatal(err)
	}
	literal.Update(make([]byte, 64))

	if fast.HexDigest() != literal.HexDigest() {
		t.Fatalf("Zero(blockSize) digest %q should match Update(zeros) digest %q", fast.HexDigest(), literal.HexDigest())
	}
}

func TestBlockHashPartialZeroMatchesUpdate(t *testing.T) {
	bh, err := NewBlockHash("sha1", 64)
	if err != nil {
		t.Fatal(err)
	}
	bh.Zero(32)
	partial := bh.HexDigest()

	bh2, err := NewBlockHash("sha1", 64)
	if err != nil {
		t.Fatal(err)
	}
	bh2.Update(make([]byte, 32))
	full := bh2.HexDigest()

	if partial != full {
		t.Fatal("Zero(n) for n < blockSize should hash the same n zero bytes as an equivalent literal Update")
	}
}

func TestBlockHashDistinguishesContent(t *testing.T) {
	a, _ := NewBlockHash("sha256", 16)
	a.Update([]byte("aaaaaaaaaaaaaaaa"))

	b, _ := NewBlockHash("sha256", 16)
	b.Update([]byte("bbbbbbbbbbbbbbbb"))

	if a.HexDigest() == b.HexDigest() {
		t.Fatal("expected different block content to produce different digests")
	}
}

func TestBlockHashAllAlgorithmsSupported(t *testing.T) {
	for _, alg := range Algorithms {
		bh, err := NewBlockHash(alg, DefaultBlockSize)
		if err != nil {
			t.Fatalf("algorithm %q: %v", alg, err)
		}
		bh.Update([]byte("data"))
		if bh.HexDigest() == "" {
			t.Fatalf("algorithm %q: expected a non-empty digest", alg)
		}
	}
}

func TestBlockHashRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := NewBlockHash("rot13", DefaultBlockSize); err == nil {
		t.Fatal("expected an error for an unsupported algorithm")
	}
}
