package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/strata/api"
	"github.com/agentic-research/strata/internal/doctree"
	"github.com/agentic-research/strata/internal/engine"
	"github.com/agentic-research/strata/internal/profile"
	"github.com/agentic-research/strata/internal/refdata"
	"github.com/agentic-research/strata/internal/store"
)

var (
	dbPath      string
	ownerID     string
	profilePath string
	deferred    bool
	verbose     bool
)

func init() {
	materializeCmd.Flags().StringVar(&dbPath, "db", "strata.db", "Path to the sqlite database")
	materializeCmd.Flags().StringVar(&ownerID, "owner", "", "Owner scope for natural keys (required)")
	materializeCmd.Flags().StringVar(&profilePath, "profile", "", "Path to an HCL materialization profile")
	materializeCmd.Flags().BoolVar(&deferred, "deferred", false, "Defer all flushes to one commit at the end")
	materializeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	_ = materializeCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(materializeCmd)
}

var materializeCmd = &cobra.Command{
	Use:   "materialize [document...]",
	Short: "Materialize one or more source documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(verbose)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		prof := profile.Default()
		if profilePath != "" {
			prof, err = profile.Load(profilePath)
			if err != nil {
				return err
			}
		}
		policy, err := engine.ParsePolicy(prof.FlushPolicy)
		if err != nil {
			return err
		}
		if deferred {
			policy = engine.FlushDeferred
		}

		st, err := store.Open(dbPath, store.Options{
			LookupChunk: prof.LookupChunk,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		refs, err := refdata.NewResolver(st, prof.RefCacheSize, logger)
		if err != nil {
			return err
		}

		var docs []engine.DocSource
		for _, path := range args {
			root, err := loadDocument(path)
			if err != nil {
				return err
			}
			docs = append(docs, engine.DocSource{
				Root: root,
				Owner: api.OwnerContext{
					OwnerID: ownerID,
					DocCode: docCode(path),
				},
			})
		}

		pipeline := engine.New(st, refs, policy, prof, logger)
		results := pipeline.MaterializeAll(cmd.Context(), docs)

		failed := 0
		for _, res := range results {
			if !res.Success {
				failed++
			}
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(results))
		}
		return nil
	},
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadDocument(path string) (doctree.Node, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return doctree.ParseJSON(data)
	case ".xml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
		return doctree.ParseXML(f)
	default:
		return nil, fmt.Errorf("unsupported document format %s", path)
	}
}

// docCode falls back to the file name when the document carries no code
// attribute of its own.
func docCode(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
