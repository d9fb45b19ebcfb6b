package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/vecrank/internal/version"
	vecrank "github.com/kailas-cloud/vecrank/pkg/sdk"
)

var errUnhealthy = errors.New("unhealthy")

func newHealthCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check store, embedding, cache and search health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			h := client.Health(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
			if h.Status == "error" {
				return errUnhealthy
			}
			return nil
		},
	}
}

func newIndexCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect or rebuild the vector index",
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the active index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.IndexInfo(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}

	rebuild := &cobra.Command{
		Use:       "rebuild <hnsw|ivf|flat>",
		Short:     "Recreate the index with another algorithm; stored chunks are kept",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(vecrank.IndexHNSW), string(vecrank.IndexIVF), string(vecrank.IndexFlat)},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.RebuildIndex(cmd.Context(), vecrank.IndexKind(args[0]))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}

	var corpusSize, updatesPerDay int
	recommend := &cobra.Command{
		Use:   "recommend",
		Short: "Advise an index kind for a workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			rec, err := client.RecommendIndex(corpusSize, updatesPerDay)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	recommend.Flags().IntVar(&corpusSize, "corpus-size", 0, "number of chunks")
	recommend.Flags().IntVar(&updatesPerDay, "updates-per-day", 0, "chunk writes per day")
	_ = recommend.MarkFlagRequired("corpus-size")

	cmd.AddCommand(info, rebuild, recommend)
	return cmd
}

func newCacheCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the search result cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached search result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := client.ClearCache(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cached results\n", n)
			return err
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
