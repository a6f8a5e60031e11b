package naming

import "strings"

// DefaultSeparator is the key separator used when none is configured.
const DefaultSeparator = "/"

// RootPrefix is the prefix of keys that contain no separator.
const RootPrefix = ""

// IsDirMarker reports whether key names a directory (ends with sep).
func IsDirMarker(key, sep string) bool {
	return sep != "" && key != "" && strings.HasSuffix(key, sep)
}

// PrefixOf returns the directory prefix of key including the trailing
// separator. A directory marker is its own prefix and a key without a
// separator has the root prefix.
func PrefixOf(key, sep string) string {
	if IsDirMarker(key, sep) {
		return key
	}
	i := strings.LastIndex(key, sep)
	if i < 0 {
		return RootPrefix
	}
	return key[:i+len(sep)]
}

// NormalizePrefix makes a non-root prefix end with sep. Leading separators
// are stripped since keys never start with one.
func NormalizePrefix(prefix, sep string) string {
	for sep != "" && strings.HasPrefix(prefix, sep) {
		prefix = prefix[len(sep):]
	}
	if prefix == RootPrefix || strings.HasSuffix(prefix, sep) {
		return prefix
	}
	return prefix + sep
}

// IsUnder reports whether prefix equals or is nested below parent. Every
// prefix is under the root prefix.
func IsUnder(prefix, parent string) bool {
	return strings.HasPrefix(prefix, parent)
}

// BaseName returns the last segment of key (the segment before the trailing
// separator for a directory marker).
func BaseName(key, sep string) string {
	key = strings.TrimSuffix(key, sep)
	if i := strings.LastIndex(key, sep); i >= 0 {
		return key[i+len(sep):]
	}
	return key
}
