package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/objectfs/bucketcache/internal/client"
	"github.com/objectfs/bucketcache/internal/command"
	"github.com/objectfs/bucketcache/internal/naming"
	"github.com/objectfs/bucketcache/pkg/utils"
)

// locationRole says which parameters a positional s3:// argument fills.
type locationRole int

const (
	// bucket and key
	roleKey locationRole = iota
	// bucket and prefix
	rolePrefix
	// source bucket and key, then target bucket and key
	roleCopy
	// source bucket and prefix, then target bucket and target prefix
	roleBatchCopy
)

type commandSpec struct {
	kind  command.Kind
	args  string
	short string
	role  locationRole
	// params are the command.Params names exposed as flags.
	params []string
}

var (
	objectParams = []string{command.ParamBucket, command.ParamKey, command.ParamDelimiter}
	bucketParams = []string{command.ParamBucket}
	statusParams = []string{command.ParamBucket, command.ParamStatus}
)

func withParams(base []string, extra ...string) []string {
	return append(append([]string(nil), base...), extra...)
}

var commandSpecs = []commandSpec{
	{kind: command.KindUpload, args: "s3://bucket/key", short: "Upload an object and cache it",
		params: withParams(objectParams, command.ParamBody, command.ParamContentType, command.ParamStorageClass, command.ParamMetadata, command.ParamTTL)},
	{kind: command.KindDownload, args: "s3://bucket/key", short: "Download an object, from the cache when possible",
		params: withParams(objectParams, command.ParamTTL)},
	{kind: command.KindHead, args: "s3://bucket/key", short: "Show object metadata",
		params: withParams(objectParams, command.ParamTTL)},
	{kind: command.KindExists, args: "s3://bucket[/key]", short: "Check whether a bucket or object exists",
		params: objectParams},
	{kind: command.KindDelete, args: "s3://bucket/key", short: "Delete an object",
		params: objectParams},
	{kind: command.KindDeleteFolder, args: "s3://bucket/prefix/", short: "Delete every object under a prefix", role: rolePrefix,
		params: []string{command.ParamBucket, command.ParamPrefix, command.ParamKey, command.ParamDelimiter}},
	{kind: command.KindCopy, args: "s3://bucket/src s3://bucket/dst", short: "Copy an object", role: roleCopy,
		params: []string{command.ParamBucket, command.ParamSource, command.ParamTarget, command.ParamSourceBucket, command.ParamTargetBucket, command.ParamDelimiter, command.ParamTTL}},
	{kind: command.KindMove, args: "s3://bucket/src s3://bucket/dst", short: "Move an object", role: roleCopy,
		params: []string{command.ParamBucket, command.ParamSource, command.ParamTarget, command.ParamSourceBucket, command.ParamTargetBucket, command.ParamDelimiter, command.ParamTTL}},
	{kind: command.KindBatchCopy, args: "s3://bucket/prefix/ s3://bucket/target/", short: "Copy many objects in parallel", role: roleBatchCopy,
		params: []string{command.ParamBucket, command.ParamPrefix, command.ParamTarget, command.ParamKeys, command.ParamSourceBucket, command.ParamTargetBucket, command.ParamDelimiter, command.ParamTTL}},
	{kind: command.KindList, args: "s3://bucket[/prefix/]", short: "List keys under a prefix", role: rolePrefix,
		params: []string{command.ParamBucket, command.ParamPrefix, command.ParamDelimiter, command.ParamHydrate, command.ParamTTL}},
	{kind: command.KindListBuckets, short: "List buckets"},
	{kind: command.KindCreateBucket, args: "s3://bucket", short: "Create a bucket", params: bucketParams},
	{kind: command.KindDeleteBucket, args: "s3://bucket", short: "Delete an empty bucket", params: bucketParams},
	{kind: command.KindClearBucket, args: "s3://bucket", short: "Delete every object in a bucket", params: bucketParams},
	{kind: command.KindPresign, args: "s3://bucket/key", short: "Create a presigned URL",
		params: withParams(objectParams, command.ParamMethod, command.ParamExpiry)},
	{kind: command.KindSetPolicy, args: "s3://bucket", short: "Set or delete a bucket policy",
		params: []string{command.ParamBucket, command.ParamPolicy}},
	{kind: command.KindGetPolicy, args: "s3://bucket", short: "Show a bucket policy", params: bucketParams},
	{kind: command.KindSetLifecycle, args: "s3://bucket[/prefix/]", short: "Expire objects under a prefix", role: rolePrefix,
		params: []string{command.ParamBucket, command.ParamPrefix, command.ParamKey, command.ParamDays, command.ParamStatus, command.ParamDelimiter}},
	{kind: command.KindSetVersioning, args: "s3://bucket", short: "Enable or suspend versioning", params: statusParams},
	{kind: command.KindSetAcceleration, args: "s3://bucket", short: "Enable or suspend transfer acceleration", params: statusParams},
	{kind: command.KindWarm, args: "s3://bucket[/prefix/]", short: "Populate the cache from a remote listing", role: rolePrefix,
		params: []string{command.ParamBucket, command.ParamPrefix, command.ParamDelimiter, command.ParamHydrate, command.ParamTTL}},
}

func maxLocations(role locationRole) int {
	if role == roleCopy || role == roleBatchCopy {
		return 2
	}
	return 1
}

func flagName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}

// newKindCommand builds the subcommand for one command kind. Flags carry
// command parameters by name; positional s3:// URIs fill the bucket and
// key (or prefix) parameters that were not given as flags.
func (a *app) newKindCommand(spec commandSpec) *cobra.Command {
	var (
		file   string
		output string
	)
	use := spec.kind.String()
	if spec.args != "" {
		use += " " + spec.args
	}
	nargs := 0
	if spec.args != "" {
		nargs = maxLocations(spec.role)
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: spec.short,
		Args:  cobra.MaximumNArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := paramValues(cmd.Flags(), spec.params)
			if err := applyLocations(values, spec.role, args); err != nil {
				return err
			}
			p, err := command.FromMap(values)
			if err != nil {
				return err
			}
			if spec.kind == command.KindUpload && file != "" {
				if _, given := values[command.ParamBody]; given {
					return fmt.Errorf("--file and --body are mutually exclusive")
				}
				closeBody, err := a.attachBody(&p, file)
				if err != nil {
					return err
				}
				defer closeBody()
			}

			res, err := a.client.Execute(cmd.Context(), spec.kind, p)
			if res != nil {
				if spec.kind == command.KindDownload && output != "" && err == nil {
					return a.saveObject(res, p, output)
				}
				if perr := a.printResult(res); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}

	fs := cmd.Flags()
	for _, name := range spec.params {
		if name == command.ParamHydrate {
			fs.Bool(flagName(name), false, paramUsage(name))
			continue
		}
		fs.String(flagName(name), "", paramUsage(name))
	}
	switch spec.kind {
	case command.KindUpload:
		fs.StringVarP(&file, "file", "f", "", "local file to upload, or - for stdin")
	case command.KindDownload:
		fs.StringVarP(&output, "output", "O", "", "write the body to this file or directory, or - for stdout")
	}
	return cmd
}

// paramValues collects the parameter flags that were set on the command
// line.
func paramValues(fs *pflag.FlagSet, params []string) map[string]string {
	values := make(map[string]string)
	for _, name := range params {
		f := fs.Lookup(flagName(name))
		if f == nil || !f.Changed {
			continue
		}
		values[name] = f.Value.String()
	}
	return values
}

func applyLocations(values map[string]string, role locationRole, args []string) error {
	locs := make([]client.Location, len(args))
	for i, arg := range args {
		loc, err := client.ParseURI(arg)
		if err != nil {
			return err
		}
		locs[i] = loc
	}

	setDefault := func(name, val string) {
		if _, ok := values[name]; !ok && val != "" {
			values[name] = val
		}
	}
	switch {
	case len(locs) == 0:
	case role == roleKey:
		setDefault(command.ParamBucket, locs[0].Bucket)
		setDefault(command.ParamKey, locs[0].Key)
	case role == rolePrefix:
		setDefault(command.ParamBucket, locs[0].Bucket)
		setDefault(command.ParamPrefix, locs[0].Key)
	case role == roleCopy || role == roleBatchCopy:
		if len(locs) != 2 {
			return fmt.Errorf("expected a source and a target URI")
		}
		setDefault(command.ParamSourceBucket, locs[0].Bucket)
		setDefault(command.ParamTargetBucket, locs[1].Bucket)
		setDefault(command.ParamBucket, locs[0].Bucket)
		if role == roleCopy {
			setDefault(command.ParamSource, locs[0].Key)
		} else {
			setDefault(command.ParamPrefix, locs[0].Key)
		}
		setDefault(command.ParamTarget, locs[1].Key)
	}
	return nil
}

// attachBody opens path as the upload body. Stdin is read fully so that
// the size is known.
func (a *app) attachBody(p *command.Params, path string) (func(), error) {
	if path == "-" {
		data, err := io.ReadAll(a.in)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		p.Body, p.Size = bytes.NewReader(data), int64(len(data))
		return func() {}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	p.Body, p.Size = f, info.Size()
	return func() { f.Close() }, nil
}

// saveObject writes a downloaded body. When output is a directory, the
// file takes the key's base name, shortened to the configured filename
// limit.
func (a *app) saveObject(res *command.Result, p command.Params, output string) error {
	if res.Object == nil {
		return fmt.Errorf("download returned no object")
	}
	if output == "-" {
		_, err := a.out.Write(res.Object.Body)
		return err
	}

	path := output
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		cfg := a.client.Config().Naming
		sep := p.Delimiter
		if sep == "" {
			sep = cfg.Separator
		}
		name := naming.BaseName(naming.ShortenFilename(p.Key, sep, cfg.MaxFilenameLen), sep)
		if path, err = utils.SecureJoin(output, name); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, res.Object.Body, 0o644); err != nil {
		return err
	}
	a.client.Logger().Info("object saved", "bucket", p.Bucket, "key", p.Key, "path", path,
		"size", utils.FormatBytes(int64(len(res.Object.Body))), "from_cache", res.FromCache)
	return nil
}

func paramUsage(name string) string {
	switch name {
	case command.ParamBucket:
		return "bucket name"
	case command.ParamKey:
		return "object key"
	case command.ParamPrefix:
		return "key prefix (folder)"
	case command.ParamSource:
		return "source key"
	case command.ParamTarget:
		return "target key or prefix"
	case command.ParamSourceBucket:
		return "source bucket (defaults to --bucket)"
	case command.ParamTargetBucket:
		return "target bucket (defaults to --bucket)"
	case command.ParamKeys:
		return "comma-separated keys"
	case command.ParamTTL:
		return "cache TTL for entries this call writes (e.g. 10m or seconds)"
	case command.ParamHydrate:
		return "return full items, fetching small bodies into the cache"
	case command.ParamDelimiter:
		return "folder separator for this call"
	case command.ParamBody:
		return "literal object body"
	case command.ParamContentType:
		return "content type"
	case command.ParamStorageClass:
		return "storage class"
	case command.ParamMetadata:
		return "user metadata as k=v,k2=v2"
	case command.ParamPolicy:
		return "policy JSON; empty deletes the policy"
	case command.ParamStatus:
		return "enabled or suspended"
	case command.ParamMethod:
		return "GET or PUT"
	case command.ParamExpiry:
		return "URL lifetime (e.g. 15m, at most 7 days)"
	case command.ParamDays:
		return "expiration in days"
	}
	return name
}
