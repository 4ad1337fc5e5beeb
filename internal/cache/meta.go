package cache

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	digest "github.com/opencontainers/go-digest"

	"github.com/btdt-ci/btdt/internal/cacheerr"
)

// meta is the small on-disk record a key mapping is made of (spec §3:
// "a small record { key, content-hash H, created-at }"). Grounded on
// original_source/btdt/src/cache/meta.rs for the field set and on the
// teacher's localCacheMetadata for the "one record per key" shape, but
// encoded with fxamacker/cbor instead of either rkyv (Rust-only) or the
// teacher's hand-rolled "outputID:%s\nsize:%d\n" text format — a
// self-describing binary record needs no bespoke line parser and can
// grow new fields without breaking old readers.
type meta struct {
	Key        string    `cbor:"key"`
	Digest     string    `cbor:"digest"`
	CreatedAt  time.Time `cbor:"created_at"`
	LastAccess time.Time `cbor:"last_access"`
}

func newMeta(key string, d digest.Digest, now time.Time) meta {
	return meta{Key: key, Digest: d.String(), CreatedAt: now, LastAccess: now}
}

func (m meta) digest() (digest.Digest, error) {
	d := digest.Digest(m.Digest)
	if err := d.Validate(); err != nil {
		return "", cacheerr.Wrap(cacheerr.KindCorrupt, "invalid digest in meta record", err)
	}
	return d, nil
}

func encodeMeta(m meta) ([]byte, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.KindIO, "encode meta record", err)
	}
	return data, nil
}

func decodeMeta(data []byte) (meta, error) {
	var m meta
	if err := cbor.Unmarshal(data, &m); err != nil {
		return meta{}, cacheerr.Wrap(cacheerr.KindCorrupt, "decode meta record", err)
	}
	return m, nil
}
