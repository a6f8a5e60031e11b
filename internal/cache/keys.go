package cache

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Kind distinguishes the three entry types stored for a bucket.
type Kind string

const (
	KindItem  Kind = "item"
	KindList  Kind = "list"
	KindIndex Kind = "index"
)

// KeyBuilder derives backing-store keys of the form
// <namespace>.<kind>.<h(bucket)>.<h(name)>, where h is the unpadded
// base64url blake2b-256 digest. '.' is outside the base64url alphabet, so
// the composition is unambiguous and every key of a bucket shares a
// matchable prefix.
type KeyBuilder struct {
	namespace string
}

// NewKeyBuilder returns a builder for namespace.
func NewKeyBuilder(namespace string) KeyBuilder {
	return KeyBuilder{namespace: namespace}
}

// Item is the key of a single object's hydrated entry.
func (b KeyBuilder) Item(bucket, key string) string {
	return b.compose(KindItem, bucket, key)
}

// List is the key of the member list of a prefix.
func (b KeyBuilder) List(bucket, prefix string) string {
	return b.compose(KindList, bucket, prefix)
}

// Index is the key of a bucket's prefix index.
func (b KeyBuilder) Index(bucket string) string {
	return b.compose(KindIndex, bucket, "")
}

// BucketPattern matches every entry of kind for bucket.
func (b KeyBuilder) BucketPattern(kind Kind, bucket string) string {
	var sb strings.Builder
	sb.WriteString(b.namespace)
	sb.WriteByte('.')
	sb.WriteString(string(kind))
	sb.WriteByte('.')
	sb.WriteString(hashName(bucket))
	sb.WriteString(".*")
	return sb.String()
}

func (b KeyBuilder) compose(kind Kind, bucket, name string) string {
	hb, hn := hashName(bucket), hashName(name)

	var sb strings.Builder
	sb.Grow(len(b.namespace) + len(kind) + len(hb) + len(hn) + 3)
	sb.WriteString(b.namespace)
	sb.WriteByte('.')
	sb.WriteString(string(kind))
	sb.WriteByte('.')
	sb.WriteString(hb)
	sb.WriteByte('.')
	sb.WriteString(hn)
	return sb.String()
}

func hashName(name string) string {
	sum := blake2b.Sum256([]byte(name))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
