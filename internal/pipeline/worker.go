package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/textjson/internal/chunker"
	"github.com/dgallion1/textjson/internal/engine"
	"github.com/dgallion1/textjson/internal/parser"
	"github.com/dgallion1/textjson/internal/patch"
	"github.com/dgallion1/textjson/internal/sink"
	"github.com/dgallion1/textjson/internal/truncate"
)

// Worker processes a single extraction job: parse, chunk, then run the
// construction engine over the chunks.
type Worker struct {
	dm        engine.DecisionMaker
	prompter  engine.Prompter
	validator *patch.Validator
	trunc     *truncate.Truncator
	engCfg    engine.Config
	chunker   *chunker.Chunker
	sink      *sink.Client // nil disables delivery
	log       *slog.Logger

	pdfFallback bool
}

func NewWorker(
	dm engine.DecisionMaker,
	prompter engine.Prompter,
	validator *patch.Validator,
	trunc *truncate.Truncator,
	engCfg engine.Config,
	ch *chunker.Chunker,
	sc *sink.Client,
	log *slog.Logger,
	pdfFallback bool,
) *Worker {
	return &Worker{
		dm:          dm,
		prompter:    prompter,
		validator:   validator,
		trunc:       trunc,
		engCfg:      engCfg,
		chunker:     ch,
		sink:        sc,
		log:         log,
		pdfFallback: pdfFallback,
	}
}

// Process runs the full pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	if pdf, ok := p.(*parser.PDFParser); ok {
		pdf.FallbackPdftotext = w.pdfFallback
	}

	doc, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("parse failed", "error", err)
		job.AddError(fmt.Sprintf("parse: %s", err))
		job.SetStatus(StatusFailed, "parsing")
		return
	}
	if job.Title == "" {
		job.Title = doc.Title
	}
	job.ContentHash = ContentHashHex([]byte(doc.Text))

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	chunks, err := w.chunker.Chunk(ctx, doc.Text)
	if err != nil {
		log.Error("chunking failed", "error", err)
		job.AddError(fmt.Sprintf("chunk: %s", err))
		job.SetStatus(StatusFailed, "chunking")
		return
	}
	job.SetTotalChunks(len(chunks))
	log.Info("chunked document", "chunks", len(chunks))

	if len(chunks) == 0 {
		log.Warn("no chunks produced")
		job.AddError("no extractable content")
		job.SetStatus(StatusFailed, "chunking")
		return
	}

	// Phase 3: Build the document chunk by chunk.
	job.SetStatus(StatusExtracting, "extracting")
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	engCfg := w.engCfg
	if job.MaxIterations > 0 {
		engCfg.MaxIterations = job.MaxIterations
	}
	engCfg.OnChunkDone = func(_, iterations int) {
		job.IncrChunksProcessed(iterations)
	}
	eng := engine.New(w.dm, w.prompter, w.validator, w.trunc, engCfg, log)

	res, err := eng.Run(ctx, texts, job.Schema())
	if err != nil {
		log.Error("extraction failed", "error", err)
		job.AddError(fmt.Sprintf("extract: %s", err))
		job.SetStatus(StatusFailed, "extracting")
		return
	}

	job.SetResult(&JobResult{
		Document: res.Document,
		Usage:    res.Usage,
		Guidance: res.Guidance,
	})
	log.Info("extraction complete",
		"chunks", res.Chunks,
		"iterations", res.Iterations,
		"total_tokens", res.Usage.TotalTokens)

	// Phase 4: Optional delivery. Failures are recorded but never fail
	// the job; the result stays retrievable from the job store.
	if w.sink != nil {
		if err := w.sink.PutDocument(ctx, job.ID, sink.Delivery{
			Document:    res.Document,
			Title:       job.Title,
			Filename:    job.Filename,
			ContentHash: job.ContentHash,
			Meta: map[string]any{
				"chunks":       res.Chunks,
				"iterations":   res.Iterations,
				"total_tokens": res.Usage.TotalTokens,
			},
		}); err != nil {
			log.Warn("sink delivery failed", "error", err)
			job.AddError(fmt.Sprintf("deliver: %s", err))
		} else {
			job.MarkDelivered()
		}
	}

	job.SetStatus(StatusCompleted, "done")
}
