package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/vecrank/internal/config"
	vecrank "github.com/kailas-cloud/vecrank/pkg/sdk"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	env        string
	configPath string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "vecrank",
		Short:         "Hybrid vector and metadata search engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&f.env, "env", config.GetEnv(),
		"environment; selects config/{env}.yaml and the log format")
	root.PersistentFlags().StringVar(&f.configPath, "config", "",
		"explicit config file (takes precedence over --env)")

	root.AddCommand(
		newServeCmd(f),
		newSearchCmd(f),
		newLoadCmd(f),
		newHealthCmd(f),
		newIndexCmd(f),
		newCacheCmd(f),
		newVersionCmd(),
	)
	return root
}

func (f *rootFlags) loadConfig() (config.Config, error) {
	if f.configPath != "" {
		return config.LoadFile(f.configPath)
	}
	return config.Load(f.env)
}

// client opens an in-process engine over the configured store.
func (f *rootFlags) client(ctx context.Context) (*vecrank.Client, error) {
	if f.configPath != "" {
		return vecrank.New(ctx, vecrank.WithConfigFile(f.configPath))
	}
	return vecrank.New(ctx, vecrank.WithEnv(f.env))
}
