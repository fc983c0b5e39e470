// Command docprompt converts one document into prompts and prints the
// result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dgallion1/docprompt/internal/app"
	"github.com/dgallion1/docprompt/internal/chunker"
	"github.com/dgallion1/docprompt/internal/config"
	"github.com/dgallion1/docprompt/internal/logging"
	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/dgallion1/docprompt/internal/prompt"
	"github.com/joho/godotenv"
)

// printError prints an error message to stderr.
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	rc := cfg.RunConfig()

	var (
		local    = flag.Bool("local", cfg.ExtractMode == config.ModeLocal, "extract with the built-in parsers instead of the extraction service")
		size     = flag.Int("chunk-size", rc.ChunkSize, "maximum chunk size in characters")
		overlap  = flag.Int("chunk-overlap", rc.ChunkOverlap, "characters repeated between chunks")
		template = flag.String("template", string(rc.PromptTemplate), "prompt template")
		task     = flag.String("task", "", "task description replacing the template default")
		noClean  = flag.Bool("no-clean", false, "skip text cleaning")
		noSplit  = flag.Bool("no-split", false, "keep the whole text as one chunk")
		noPrompt = flag.Bool("no-prompts", false, "emit the cleaned text as a single raw record")
		wait     = flag.Int("max-wait", rc.MaxWaitSeconds, "extraction polling budget in seconds")
		publish  = flag.Bool("publish", false, "publish the prompts to the configured pathstore")
		out      = flag.String("out", "", "write the JSON result to this file instead of stdout")
		summary  = flag.Bool("summary", false, "print chunk and prompt statistics instead of the full result")
	)
	flag.Usage = func() {
		printError("usage: docprompt [flags] <url-or-path>\n\ntemplates: %v\n\n", prompt.Kinds())
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	source := flag.Arg(0)

	if *local {
		cfg.ExtractMode = config.ModeLocal
	}
	// Logs go to stderr so stdout carries only the result.
	log := logging.NewWriter(os.Stderr, cfg.LogLevel, "text")
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	kind, err := prompt.ParseKind(*template)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	rc.ChunkSize, rc.ChunkOverlap = *size, *overlap
	rc.PromptTemplate = kind
	rc.TaskDescription = *task
	rc.EnableCleaning = !*noClean
	rc.EnableSplitting = !*noSplit
	rc.EnablePromptBuilding = !*noPrompt
	rc.MaxWaitSeconds = *wait

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := app.Build(ctx, cfg, log)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	defer comps.Close()

	res, err := comps.Pipeline.Run(ctx, source, rc)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	if *publish {
		sink := comps.Sink(cfg, log)
		if sink == nil {
			printError("Error: -publish needs DOCPROMPT_PATHSTORE_URL\n")
			os.Exit(1)
		}
		job := pipeline.NewJob(source, rc)
		job.Filename = filepath.Base(source)
		docID := pipeline.DocID(res.ContentHash)
		job.Complete(res, docID)
		if _, err := sink.Publish(ctx, docID, job.Snapshot(), res); err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		log.Info("published", "doc_id", docID, "key", pipeline.DocumentKey(docID))
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	var v any = res
	if *summary {
		v = map[string]any{
			"document_url": res.DocumentURL,
			"content_hash": res.ContentHash,
			"elapsed":      res.Elapsed.String(),
			"chunks":       chunker.Summarize(res.Chunks),
			"prompts":      prompt.Summarize(res.Prompts),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}
