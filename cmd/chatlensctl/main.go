// Command chatlensctl runs maintenance tasks against a chatlens data directory without the
// HTTP service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/chatlens/analytics"
	"github.com/onnwee/chatlens/config"
	"github.com/onnwee/chatlens/models"
	"github.com/onnwee/chatlens/retention"
	"github.com/onnwee/chatlens/store"
)

var rootCmd = &cobra.Command{
	Use:          "chatlensctl",
	Short:        "chatlensctl - chatlens maintenance tools",
	SilenceUsage: true,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep over the configured storage roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if dryRunFlag {
			cfg.Retention.DryRun = true
		}
		return runSweep(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

var pastasCmd = &cobra.Command{
	Use:   "pastas",
	Short: "Print the most repeated messages of a stored broadcast",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rec, err := loadRecord(cfg, pastaFlags.file, pastaFlags.id)
		if err != nil {
			return err
		}
		opts := analytics.PastaOptions{MinLength: cfg.Pasta.MinLength, Similarity: cfg.Pasta.Similarity}
		if cmd.Flags().Changed("min-length") {
			opts.MinLength = pastaFlags.minLength
		}
		if cmd.Flags().Changed("similarity") {
			opts.Similarity = pastaFlags.similarity
		}
		return runPastas(rec, opts, pastaFlags.top, cmd.OutOrStdout())
	},
}

var dryRunFlag bool

var pastaFlags struct {
	file       string
	id         string
	minLength  int
	similarity float64
	top        int
}

func init() {
	sweepCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Log what would be deleted without deleting")

	pastasCmd.Flags().StringVarP(&pastaFlags.file, "file", "f", "", "Stream record file (.json or .json.zst)")
	pastasCmd.Flags().StringVar(&pastaFlags.id, "id", "", "Broadcast id in the configured data directory")
	pastasCmd.Flags().IntVar(&pastaFlags.minLength, "min-length", 10, "Ignore messages shorter than this")
	pastasCmd.Flags().Float64Var(&pastaFlags.similarity, "similarity", 0.8, "Minimum similarity for variants")
	pastasCmd.Flags().IntVarP(&pastaFlags.top, "top", "n", analytics.DefaultCount, "Number of groups to print")

	rootCmd.AddCommand(sweepCmd, pastasCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSweep(ctx context.Context, cfg *config.Config, out io.Writer) error {
	m := retention.NewManager(retention.Policy{
		Roots:          cfg.Retention.Roots,
		MaxAgeDays:     cfg.Retention.MaxAgeDays,
		MaxEntrySizeMB: cfg.Retention.MaxEntrySizeMB,
		MaxRootQuotaMB: cfg.Retention.MaxRootQuotaMB,
		DryRun:         cfg.Retention.DryRun,
	})
	rep := m.Sweep(ctx)
	return writeJSON(out, rep)
}

// loadRecord reads a stream record from an explicit file or from the store by id.
func loadRecord(cfg *config.Config, file, id string) (*models.StreamRecord, error) {
	var rec models.StreamRecord
	switch {
	case file != "" && id != "":
		return nil, errors.New("use either --file or --id, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(file, store.Zstd{}.Ext()) {
			if data, err = (store.Zstd{}).Decode(data); err != nil {
				return nil, fmt.Errorf("decompress %s: %w", file, err)
			}
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", file, err)
		}
	case id != "":
		codec, err := store.ParseCodec(cfg.StoreCodec)
		if err != nil {
			return nil, err
		}
		if err := store.New(cfg.DataDir, codec).Get(store.Streams, id, &rec); err != nil {
			return nil, fmt.Errorf("load broadcast %s: %w", id, err)
		}
	default:
		return nil, errors.New("one of --file or --id is required")
	}
	return &rec, nil
}

func runPastas(rec *models.StreamRecord, opts analytics.PastaOptions, top int, out io.Writer) error {
	if top <= 0 {
		top = analytics.DefaultCount
	}
	return writeJSON(out, analytics.TopPastas(rec.Chat, opts, top))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
