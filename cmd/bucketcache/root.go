package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/objectfs/bucketcache/internal/client"
	"github.com/objectfs/bucketcache/internal/command"
	"github.com/objectfs/bucketcache/internal/config"
)

// clientFactory builds the client once the configuration is loaded.
type clientFactory func(ctx context.Context, cfg *config.Configuration) (*client.Client, error)

func defaultClientFactory(ctx context.Context, cfg *config.Configuration) (*client.Client, error) {
	return client.New(ctx, cfg)
}

// app is the state shared by the root command and its subcommands.
type app struct {
	opts      *rootOptions
	newClient clientFactory
	client    *client.Client

	in  io.Reader
	out io.Writer
}

func newApp(newClient clientFactory, in io.Reader, out io.Writer) *app {
	return &app{
		opts:      newRootOptions(),
		newClient: newClient,
		in:        in,
		out:       out,
	}
}

// newRootCommand builds the command tree: one subcommand per command kind
// plus init-config.
func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "bucketcache",
		Short: "Cached access to S3-compatible object storage",
		Long: `bucketcache runs object and bucket operations against an S3-compatible
store through a read-through/write-through cache that keeps a listing index
of each bucket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.opts.addFlags(root.PersistentFlags())

	for _, spec := range commandSpecs {
		cmd := a.newKindCommand(spec)
		cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
			return a.start(cmd.Context())
		}
		root.AddCommand(cmd)
	}
	root.AddCommand(a.newInitConfigCommand())
	return root
}

// start loads the configuration and builds the client.
func (a *app) start(ctx context.Context) error {
	if err := a.opts.validate(); err != nil {
		return err
	}
	cfg, err := a.opts.load()
	if err != nil {
		return err
	}
	c, err := a.newClient(ctx, cfg)
	if err != nil {
		return err
	}
	a.client = c
	return c.Start(ctx)
}

// close stops the client if one was built.
func (a *app) close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	err := a.client.Stop(ctx)
	a.client = nil
	return err
}

func (a *app) newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config FILE",
		Short: "Write the default configuration to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := a.opts.load()
			if err != nil {
				return err
			}
			if err := cfg.SaveToFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s\n", args[0])
			return nil
		},
	}
}

// printResult writes res in the selected format. YAML output is converted
// from the JSON form so both formats use the same field names and order.
func (a *app) printResult(res *command.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	if strings.ToLower(a.opts.format) == formatYAML {
		var doc yaml.MapSlice
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
	} else {
		data = append(data, '\n')
	}
	_, err = a.out.Write(data)
	return err
}
