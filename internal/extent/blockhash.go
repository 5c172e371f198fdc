package extent

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Algorithms is the closed set accepted by the checksum endpoint (spec.md
// §4.5); "sha1" is the default for backward compatibility.
var Algorithms = []string{"sha1", "sha256", "md5", "blake2b"}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "md5":
		return md5.New(), nil
	case "blake2b":
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
}

// BlockHash is a block-based hash with fast zero-block hashing, grounded
// on original_source/daemon/ovirt_imageio/_internal/blkhash.py: split the
// image into BlockSize windows, Update(data) for data blocks, Zero(n) for
// zero blocks. A precomputed digest of an all-zero block accelerates
// hashing of zero extents (spec.md §3 "Block").
type BlockHash struct {
	algorithm       string
	blockSize       int
	h               hash.Hash
	zeroBlockDigest []byte
}

const DefaultBlockSize = 4 * 1024 * 1024

func NewBlockHash(algorithm string, blockSize int) (*BlockHash, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	h, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}
	zh, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}
	zeroBlock := make([]byte, blockSize)
	zh.Write(zeroBlock)
	return &BlockHash{
		algorithm:       algorithm,
		blockSize:       blockSize,
		h:               h,
		zeroBlockDigest: zh.Sum(nil),
	}, nil
}

// Update hashes a literal data block and mixes its digest into the
// running hash (digest-of-digests, as blkhash.Hash.update does).
func (b *BlockHash) Update(block []byte) {
	dh, _ := newHash(b.algorithm)
	dh.Write(block)
	b.h.Write(dh.Sum(nil))
}

// Zero mixes the digest for a run of count zero bytes. When count equals
// the configured block size, the precomputed zero-block digest is reused
// instead of re-hashing count zero bytes (blkhash.py's fast path).
func (b *BlockHash) Zero(count int) {
	if count == b.blockSize {
		b.h.Write(b.zeroBlockDigest)
		return
	}
	dh, _ := newHash(b.algorithm)
	dh.Write(make([]byte, count))
	b.h.Write(dh.Sum(nil))
}

func (b *BlockHash) HexDigest() string {
	return fmt.Sprintf("%x", b.h.Sum(nil))
}
