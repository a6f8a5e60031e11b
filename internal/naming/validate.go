package naming

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/objectfs/bucketcache/pkg/errors"
)

// Limits used when no configuration overrides them.
const (
	MinBucketNameLen     = 3
	DefaultMaxBucketName = 64
	DefaultMaxKeyBytes   = 1024
	DefaultMaxFilename   = 221
)

func invalidName(kind, name, reason string) error {
	return errors.NewError(errors.ErrCodeInvalidName, fmt.Sprintf("invalid %s: %s", kind, reason)).
		WithComponent("naming").
		WithContext(kind, name)
}

// ValidateBucketName checks name against the bucket naming rules: length
// between 3 and maxLen, lowercase letters, digits, dots and hyphens only,
// starting and ending with a letter or digit, no adjacent dot/hyphen pairs
// and not an IPv4 address.
func ValidateBucketName(name string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxBucketName
	}
	if len(name) < MinBucketNameLen || len(name) > maxLen {
		return invalidName("bucket", name, fmt.Sprintf("length must be between %d and %d", MinBucketNameLen, maxLen))
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if !('a' <= ch && ch <= 'z' || '0' <= ch && ch <= '9' || ch == '.' || ch == '-') {
			return invalidName("bucket", name, fmt.Sprintf("character %q not allowed", ch))
		}
	}
	if !isAlnum(name[0]) || !isAlnum(name[len(name)-1]) {
		return invalidName("bucket", name, "must start and end with a letter or digit")
	}
	for _, bad := range []string{"..", ".-", "-."} {
		if strings.Contains(name, bad) {
			return invalidName("bucket", name, fmt.Sprintf("must not contain %q", bad))
		}
	}
	if ip := net.ParseIP(name); ip != nil && ip.To4() != nil {
		return invalidName("bucket", name, "must not be formatted as an IP address")
	}
	if strings.HasPrefix(name, "xn--") || strings.HasSuffix(name, "-s3alias") {
		return invalidName("bucket", name, "reserved prefix or suffix")
	}
	return nil
}

// ValidateObjectKey checks that key is non-empty valid UTF-8, does not
// start with '.' and fits in maxBytes.
func ValidateObjectKey(key string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxKeyBytes
	}
	switch {
	case key == "":
		return invalidName("key", key, "must not be empty")
	case strings.HasPrefix(key, "."):
		return invalidName("key", key, "must not start with '.'")
	case !utf8.ValidString(key):
		return invalidName("key", key, "must be valid UTF-8")
	case len(key) > maxBytes:
		return invalidName("key", key, fmt.Sprintf("exceeds %d bytes", maxBytes))
	}
	return nil
}

// ValidatePrefix checks a listing or folder prefix. The root prefix is
// valid.
func ValidatePrefix(prefix string, maxBytes int) error {
	if prefix == RootPrefix {
		return nil
	}
	return ValidateObjectKey(prefix, maxBytes)
}

// ShortenFilename truncates the last segment of key so that it fits in
// limit bytes, keeping the extension and the directory part. Truncation
// never splits a UTF-8 sequence.
func ShortenFilename(key, sep string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxFilename
	}
	dir := PrefixOf(key, sep)
	if IsDirMarker(key, sep) {
		return key
	}
	base := key[len(dir):]
	if len(base) <= limit {
		return key
	}

	ext := ""
	if i := strings.LastIndex(base, "."); i > 0 && len(base)-i <= limit/2 {
		ext = base[i:]
	}
	stem := base[:len(base)-len(ext)]
	keep := limit - len(ext)
	for keep > 0 && !utf8.RuneStart(stem[keep]) {
		keep--
	}
	return dir + stem[:keep] + ext
}

func isAlnum(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || '0' <= ch && ch <= '9'
}
