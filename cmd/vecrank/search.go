package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	vecrank "github.com/kailas-cloud/vecrank/pkg/sdk"
)

const contentPreview = 60

func newSearchCmd(f *rootFlags) *cobra.Command {
	var (
		filters    []string
		asJSON     bool
		maxResults int
		offset     int
		department string
		threshold  float64
	)

	cmd := &cobra.Command{
		Use:     "search <text>",
		Short:   "Run a ranked search",
		Example: `vecrank search "password reset" --filter department=IT --filter priority_min=3 --json`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			q := vecrank.Query{
				Text:       strings.Join(args, " "),
				Filters:    parsed,
				Department: department,
				Offset:     offset,
			}
			if cmd.Flags().Changed("max") {
				q.MaxResults = &maxResults
			}
			if cmd.Flags().Changed("threshold") {
				q.SimilarityThreshold = &threshold
			}

			client, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			return writeHits(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil,
		"metadata filter key=value; repeatable, comma-separated values become a list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	cmd.Flags().IntVarP(&maxResults, "max", "n", 0, "maximum results (default from config)")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	cmd.Flags().StringVar(&department, "department", "", "caller department for the match bonus")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity in [0,1]")
	return cmd
}

// parseFilters turns key=value pairs into a filter map.
func parseFilters(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q: want key=value", kv)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("filter %q given twice", key)
		}
		out[key] = parseFilterValue(strings.TrimSpace(value))
	}
	return out, nil
}

// parseFilterValue reads numbers as numbers and comma lists as string lists.
// Anything else, timestamps included, stays a string.
func parseFilterValue(v string) any {
	if strings.Contains(v, ",") {
		parts := strings.Split(v, ",")
		list := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		return list
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}

func writeHits(w io.Writer, resp vecrank.SearchResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tSCORE\tSIMILARITY\tCONTENT")
	for i, h := range resp.Hits {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%s\n", i+1, h.ID, h.Score, h.Similarity, preview(h.Content))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	source := "index"
	if resp.FromCache {
		source = "cache"
	}
	_, err := fmt.Fprintf(w, "%d of %d results from %s in %s (request %s)\n",
		resp.Count, resp.Total, source, resp.Took, resp.RequestID)
	return err
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= contentPreview {
		return s
	}
	return string(r[:contentPreview-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
