// Package naming turns caller-supplied object keys and bucket names into
// names that are safe for the remote store and the cache: a reversible
// percent encoding, validators, filename shortening and the prefix math
// shared by the cache and the commands.
package naming

import (
	"net/url"
	"strings"

	"github.com/objectfs/bucketcache/pkg/errors"
)

const upperhex = "0123456789ABCDEF"

// Codec percent-encodes every byte outside the safe class, segment by
// segment. The separator is never escaped, so the prefix of an encoded key
// is the encoding of the key's prefix.
//
// Safe class: ASCII letters and digits, space and / ! - _ . ' * ( ).
type Codec struct {
	separator string
}

// NewCodec returns a codec for separator. An empty separator means "/".
func NewCodec(separator string) *Codec {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Codec{separator: separator}
}

// Separator returns the separator the codec splits on.
func (c *Codec) Separator() string {
	return c.separator
}

// Encode returns the safe form of name. Segments that are already safe are
// returned unchanged.
func (c *Codec) Encode(name string) string {
	segments := strings.Split(name, c.separator)
	for i, seg := range segments {
		segments[i] = encodeSegment(seg)
	}
	return strings.Join(segments, c.separator)
}

// Decode reverses Encode.
func (c *Codec) Decode(safe string) (string, error) {
	segments := strings.Split(safe, c.separator)
	for i, seg := range segments {
		if !strings.Contains(seg, "%") {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return "", errors.NewError(errors.ErrCodeInvalidName, "malformed encoded name").
				WithComponent("naming").
				WithOperation("decode").
				WithContext("name", safe).
				WithCause(err)
		}
		segments[i] = decoded
	}
	return strings.Join(segments, c.separator), nil
}

// EncodeAll encodes each name.
func (c *Codec) EncodeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = c.Encode(n)
	}
	return out
}

// DecodeAll decodes each name, stopping at the first malformed one.
func (c *Codec) DecodeAll(safe []string) ([]string, error) {
	out := make([]string, len(safe))
	for i, s := range safe {
		d, err := c.Decode(s)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func encodeSegment(seg string) string {
	if isSafeSegment(seg) {
		return seg
	}
	var b strings.Builder
	b.Grow(len(seg) * 3)
	for i := 0; i < len(seg); i++ {
		ch := seg[i]
		if isSafeByte(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[ch>>4])
		b.WriteByte(upperhex[ch&0x0F])
	}
	return b.String()
}

func isSafeSegment(seg string) bool {
	for i := 0; i < len(seg); i++ {
		if !isSafeByte(seg[i]) {
			return false
		}
	}
	return true
}

func isSafeByte(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	switch ch {
	case ' ', '/', '!', '-', '_', '.', '\'', '*', '(', ')':
		return true
	}
	return false
}
