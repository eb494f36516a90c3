package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/textjson/internal/config"
	"github.com/dgallion1/textjson/internal/engine"
	"github.com/dgallion1/textjson/internal/parser"
	"github.com/dgallion1/textjson/internal/pipeline"
)

func main() {
	root := &cobra.Command{
		Use:   "textjson",
		Short: "Build structured JSON documents from text with LLM-proposed patches",
	}

	root.AddCommand(newExtractCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newExtractCmd() *cobra.Command {
	var (
		schemaPath    string
		model         string
		provider      string
		maxIterations int
		outPath       string
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract a structured JSON document from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if provider != "" {
				cfg.LLMProvider = provider
			}
			if model != "" {
				cfg.LLMModel = model
			}
			if maxIterations > 0 {
				cfg.MaxIterations = maxIterations
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logLevel := slog.LevelWarn
			if verbose {
				logLevel = slog.LevelInfo
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

			var schemaRoot any
			if schemaPath != "" {
				raw, err := os.ReadFile(schemaPath)
				if err != nil {
					return fmt.Errorf("read schema: %w", err)
				}
				if err := json.Unmarshal(raw, &schemaRoot); err != nil {
					return fmt.Errorf("parse schema: %w", err)
				}
			}

			filename := args[0]
			p, err := parser.ForFile(filename)
			if err != nil {
				return err
			}
			if pdf, ok := p.(*parser.PDFParser); ok {
				pdf.FallbackPdftotext = cfg.PDFFallbackPdftotext
			}
			f, err := os.Open(filename)
			if err != nil {
				return err
			}
			doc, err := p.Parse(f, filepath.Base(filename))
			f.Close()
			if err != nil {
				return fmt.Errorf("parse %s: %w", filename, err)
			}

			deps, err := pipeline.BuildDeps(cfg, nil, log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			chunks, err := deps.Chunker.Chunk(ctx, doc.Text)
			if err != nil {
				return fmt.Errorf("chunk: %w", err)
			}
			if len(chunks) == 0 {
				return fmt.Errorf("%s: no extractable content", filename)
			}
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}

			eng := engine.New(deps.DM, deps.Prompter, deps.Validator, deps.Trunc, deps.EngineConfig, log)
			res, err := eng.Run(ctx, texts, schemaRoot)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}

			var out io.Writer = os.Stdout
			if outPath != "" {
				of, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer of.Close()
				out = of
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Document); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "%d chunk(s), %d iteration(s), %d token(s)\n",
				res.Chunks, res.Iterations, res.Usage.TotalTokens)
			return nil
		},
	}

	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to a JSON Schema the document should follow")
	cmd.Flags().StringVar(&model, "model", "", "chat model override")
	cmd.Flags().StringVar(&provider, "provider", "", `provider override ("openai" or "anthropic")`)
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration cap per chunk")
	cmd.Flags().StringVar(&outPath, "out", "", "write the document to a file instead of stdout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")

	return cmd
}
