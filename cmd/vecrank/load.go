package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	vecrank "github.com/kailas-cloud/vecrank/pkg/sdk"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 4 << 20

type loadRecord struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Vector   []float32      `json:"vector"`
}

func newLoadCmd(f *rootFlags) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "load <file.jsonl|->",
		Short: "Bulk upsert chunks from JSON lines",
		Long: "Each line is {\"id\", \"content\", \"metadata\", \"vector\"}. " +
			"Chunks without a vector are embedded with the configured provider.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open corpus: %w", err)
				}
				defer file.Close()
				in = file
			}

			client, err := f.client(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			upsert := func(chunks []vecrank.Chunk) []vecrank.BatchResult {
				return client.BatchUpsert(cmd.Context(), chunks)
			}
			ok, failed, err := load(in, batchSize, upsert, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "loaded %d chunks, %d failed\n", ok, failed)
			if err == nil && failed > 0 {
				err = fmt.Errorf("%d chunks failed", failed)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 100, "chunks per batch")
	return cmd
}

// load streams records from r in batches and reports every failed item to errOut.
func load(
	r io.Reader, batchSize int, upsert func([]vecrank.Chunk) []vecrank.BatchResult, errOut io.Writer,
) (ok, failed int, err error) {
	if batchSize <= 0 {
		return 0, 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	batch := make([]vecrank.Chunk, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, res := range upsert(batch) {
			if res.OK {
				ok++
				continue
			}
			failed++
			fmt.Fprintf(errOut, "%s: %v\n", res.ID, res.Err)
		}
		batch = batch[:0]
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec loadRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return ok, failed, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, vecrank.Chunk(rec))
		if len(batch) == batchSize {
			flush()
		}
	}
	if err := sc.Err(); err != nil {
		return ok, failed, fmt.Errorf("read corpus: %w", err)
	}
	flush()
	return ok, failed, nil
}
