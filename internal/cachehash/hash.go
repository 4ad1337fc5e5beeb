// Package cachehash computes and represents the content hash H that
// identifies an entry in the cache (spec §3: "an immutable blob
// identified by a content hash H (BLAKE3 or equivalent 256-bit
// cryptographic hash over the serialized directory stream)").
//
// BLAKE2b-256 stands in for BLAKE3 here: it's the closest 256-bit
// cryptographic hash available via golang.org/x/crypto, the same
// dependency family notaryproject-notation-core-go already pulls in for
// its own content-hash needs. The digest is carried in the
// opencontainers/go-digest representation so it prints and parses as
// "blake2b-256:<hex>" the way a registry-style content hash normally
// would, instead of a bare byte array.
package cachehash

import (
	"fmt"
	"hash"
	"io"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/crypto/blake2b"
)

// Algorithm is the digest algorithm identifier used for every hash this
// package produces. It is registered with go-digest so Digest.Validate
// and Digest.Hex work without callers needing to know the algorithm name.
const Algorithm = digest.Algorithm("blake2b-256")

func init() {
	digest.RegisterAlgorithm(Algorithm, func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			// blake2b.New256 only fails for a bad key, and we never pass one.
			panic(fmt.Sprintf("cachehash: blake2b.New256: %v", err))
		}
		return h
	})
}

// Hasher incrementally hashes content, mirroring hash.Hash but returning
// a Digest instead of a raw byte slice.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a fresh incremental hasher.
func NewHasher() *Hasher {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(fmt.Sprintf("cachehash: blake2b.New256: %v", err))
	}
	return &Hasher{h: h}
}

// Write feeds more content into the hash. It never returns an error.
func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Digest returns the content hash of everything written so far.
func (h *Hasher) Digest() digest.Digest {
	return digest.NewDigest(Algorithm, h.h)
}

// FromReader hashes the entirety of r.
func FromReader(r io.Reader) (digest.Digest, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return h.Digest(), nil
}

// TeeHasher wraps an io.Writer so that every byte written through it is
// also hashed, letting the local cache hash a blob while it streams it
// to storage in one pass (spec §4.3: "the source is streamed into a
// staging entry while being hashed").
type TeeHasher struct {
	w io.Writer
	h *Hasher
}

// NewTeeHasher returns a writer that forwards to w and hashes in parallel.
func NewTeeHasher(w io.Writer) *TeeHasher {
	return &TeeHasher{w: w, h: NewHasher()}
}

func (t *TeeHasher) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		_, _ = t.h.Write(p[:n])
	}
	return n, err
}

// Digest returns the content hash of everything written so far.
func (t *TeeHasher) Digest() digest.Digest { return t.h.Digest() }

// ShardPrefix returns the first nHex hex characters of the digest's
// encoded value, used to shard entries/keys across subdirectories so no
// single directory gets too wide (spec §3: "the two-level prefix avoids
// wide directories").
func ShardPrefix(d digest.Digest, nHex int) string {
	enc := d.Encoded()
	if nHex > len(enc) {
		nHex = len(enc)
	}
	return enc[:nHex]
}
