package cache

import (
	"reflect"
	"testing"
)

func TestNewCodec(t *testing.T) {
	tests := []struct {
		compression string
		want        string
		wantErr     bool
	}{
		{"", "none", false},
		{"none", "none", false},
		{"snappy", "snappy", false},
		{"gzip", "", true},
	}
	for _, tt := range tests {
		c, err := NewCodec(tt.compression)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewCodec(%q) error = %v, wantErr %v", tt.compression, err, tt.wantErr)
			continue
		}
		if err == nil && c.Name() != tt.want {
			t.Errorf("NewCodec(%q).Name() = %q, want %q", tt.compression, c.Name(), tt.want)
		}
	}
}

func TestCodec_ListEnvelope(t *testing.T) {
	for _, name := range []string{"none", "snappy"} {
		t.Run(name, func(t *testing.T) {
			c, _ := NewCodec(name)
			in := listEnvelope{Bucket: "b", Prefix: "dir/", Members: []string{"dir/a", "dir/b"}}

			data, err := c.Encode(in)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			var out listEnvelope
			if err := c.Decode(data, &out); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(in, out) {
				t.Errorf("Decode() = %+v, want %+v", out, in)
			}
		})
	}
}

func TestSnappyCodec_RejectsGarbage(t *testing.T) {
	c, _ := NewCodec("snappy")
	var out listEnvelope
	if err := c.Decode([]byte("definitely not snappy"), &out); err == nil {
		t.Error("Decode() of garbage succeeded")
	}
}

func TestStringSet(t *testing.T) {
	s := newStringSet([]string{"c", "a", "b", "a", "c"})
	if want := (stringSet{"a", "b", "c"}); !reflect.DeepEqual(s, want) {
		t.Fatalf("newStringSet() = %v, want %v", s, want)
	}
	if newStringSet(nil) != nil {
		t.Error("newStringSet(nil) should be nil")
	}

	s, added := s.add("b")
	if added || len(s) != 3 {
		t.Errorf("add(existing) = %v, %v", s, added)
	}
	s, added = s.add("aa")
	if !added || !reflect.DeepEqual(s, stringSet{"a", "aa", "b", "c"}) {
		t.Errorf("add(new) = %v, %v", s, added)
	}
	if !s.contains("aa") || s.contains("zz") {
		t.Error("contains() wrong")
	}

	s, removed := s.remove("zz")
	if removed || len(s) != 4 {
		t.Errorf("remove(missing) = %v, %v", s, removed)
	}
	s, removed = s.remove("a")
	if !removed || !reflect.DeepEqual(s, stringSet{"aa", "b", "c"}) {
		t.Errorf("remove(existing) = %v, %v", s, removed)
	}
}

func TestStringSet_AddDoesNotAlias(t *testing.T) {
	base := make(stringSet, 2, 10)
	base[0], base[1] = "a", "c"

	first, _ := base.add("b")
	second, _ := base.add("bb")
	if first[1] != "b" || second[1] != "bb" {
		t.Errorf("add results alias each other: %v %v", first, second)
	}
}
