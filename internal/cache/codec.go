package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/golang/snappy"

	"github.com/objectfs/bucketcache/pkg/types"
)

// Codec serializes cache envelopes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// JSONCodec stores envelopes as plain JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSONCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                    { return "none" }

// SnappyCodec compresses the output of another codec.
type SnappyCodec struct {
	Codec
}

func (c SnappyCodec) Encode(v any) ([]byte, error) {
	b, err := c.Codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b), nil
}

func (c SnappyCodec) Decode(data []byte, v any) error {
	b, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("snappy: %w", err)
	}
	return c.Codec.Decode(b, v)
}

func (SnappyCodec) Name() string { return "snappy" }

// NewCodec returns the codec for a compression setting ("none" or "snappy").
func NewCodec(compression string) (Codec, error) {
	switch compression {
	case "", "none":
		return JSONCodec{}, nil
	case "snappy":
		return SnappyCodec{Codec: JSONCodec{}}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}

// Every envelope records the unhashed names it was written for, so a digest
// collision shows up as a mismatch on read.

type itemEnvelope struct {
	Bucket string     `json:"bucket"`
	Key    string     `json:"key"`
	Item   types.Item `json:"item"`
}

type listEnvelope struct {
	Bucket  string   `json:"bucket"`
	Prefix  string   `json:"prefix"`
	Members []string `json:"members"`
}

type indexEnvelope struct {
	Bucket   string    `json:"bucket"`
	Prefixes []string  `json:"prefixes"`
	Updated  time.Time `json:"updated"`
}

// stringSet is a sorted, duplicate-free slice.
type stringSet []string

func newStringSet(values []string) stringSet {
	if len(values) == 0 {
		return nil
	}
	out := append([]string(nil), values...)
	sort.Strings(out)
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[j-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}

func (s stringSet) contains(v string) bool {
	i := sort.SearchStrings(s, v)
	return i < len(s) && s[i] == v
}

// add returns s with v inserted and whether it was missing.
func (s stringSet) add(v string) (stringSet, bool) {
	i := sort.SearchStrings(s, v)
	if i < len(s) && s[i] == v {
		return s, false
	}
	out := make(stringSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, v)
	return append(out, s[i:]...), true
}

// remove returns s without v and whether it was present.
func (s stringSet) remove(v string) (stringSet, bool) {
	i := sort.SearchStrings(s, v)
	if i >= len(s) || s[i] != v {
		return s, false
	}
	out := make(stringSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...), true
}
