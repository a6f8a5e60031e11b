package command

import (
	"strings"

	"github.com/objectfs/bucketcache/pkg/errors"
)

// Kind identifies a command. The set is closed: every Kind is bound to a
// handler when the Registry is built.
type Kind int

const (
	KindUpload Kind = iota + 1
	KindDownload
	KindHead
	KindExists
	KindDelete
	KindDeleteFolder
	KindCopy
	KindMove
	KindBatchCopy
	KindList
	KindListBuckets
	KindCreateBucket
	KindDeleteBucket
	KindClearBucket
	KindPresign
	KindSetPolicy
	KindGetPolicy
	KindSetLifecycle
	KindSetVersioning
	KindSetAcceleration
	KindWarm
)

var kindNames = map[Kind]string{
	KindUpload:          "upload",
	KindDownload:        "download",
	KindHead:            "head",
	KindExists:          "exists",
	KindDelete:          "delete",
	KindDeleteFolder:    "delete-folder",
	KindCopy:            "copy",
	KindMove:            "move",
	KindBatchCopy:       "batch-copy",
	KindList:            "list",
	KindListBuckets:     "list-buckets",
	KindCreateBucket:    "create-bucket",
	KindDeleteBucket:    "delete-bucket",
	KindClearBucket:     "clear-bucket",
	KindPresign:         "presign",
	KindSetPolicy:       "set-policy",
	KindGetPolicy:       "get-policy",
	KindSetLifecycle:    "set-lifecycle",
	KindSetVersioning:   "set-versioning",
	KindSetAcceleration: "set-acceleration",
	KindWarm:            "warm",
}

// Kinds returns every command kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := KindUpload; k <= KindWarm; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether k is a declared kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Mutates reports whether the command changes remote state. Warm only
// writes to the cache.
func (k Kind) Mutates() bool {
	switch k {
	case KindDownload, KindHead, KindExists, KindList, KindListBuckets, KindPresign, KindGetPolicy, KindWarm:
		return false
	}
	return true
}

// ParseKind resolves a command name. Underscores are accepted in place of
// hyphens and case is ignored.
func ParseKind(name string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for k, n := range kindNames {
		if n == norm {
			return k, nil
		}
	}
	return 0, errors.NewError(errors.ErrCodeUnknownCommand, "unknown command").
		WithComponent("command").
		WithContext("command", name)
}
