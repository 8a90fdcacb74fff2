package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"omr-grader/internal/api"
	"omr-grader/internal/config"
	"omr-grader/internal/logger"
	"omr-grader/internal/ocr"
	"omr-grader/internal/ocr/engine"
	"omr-grader/internal/omr"
	"omr-grader/internal/pipeline"
	"omr-grader/internal/store"
	"omr-grader/internal/tempstore"
)

const usage = `usage: omr-tool <command> [flags]

commands:
  serve     run the HTTP grading service
  grade     grade one sheet against an answer key
  compare   estimate a score by diffing a student sheet against the key sheet
  batch     grade every sheet in a directory into a CSV file
`

type CLI struct {
	cfg *config.Config
	out io.Writer

	engineType string
	debug      bool
}

func NewCLI() *CLI {
	cfg := config.Load()
	return &CLI{
		cfg:        cfg,
		out:        os.Stdout,
		engineType: cfg.Engine,
		debug:      cfg.Debug,
	}
}

func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, usage)
		return errors.New("missing command")
	}

	switch args[0] {
	case "serve":
		return c.serve(args[1:])
	case "grade":
		return c.grade(args[1:])
	case "compare":
		return c.compare(args[1:])
	case "batch":
		return c.batch(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(c.out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (c *CLI) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("omr-tool "+name, flag.ContinueOnError)
	fs.StringVar(&c.engineType, "engine", c.engineType, "OCR engine type (tesseract, ollama, gemini)")
	fs.BoolVar(&c.debug, "debug", c.debug, "Enable debug logging")
	return fs
}

func (c *CLI) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	logger.SetDebug(c.debug)
	return nil
}

func (c *CLI) engineSettings() engine.Settings {
	return engine.Settings{
		Type:           c.engineType,
		MaxConcurrency: c.cfg.MaxConcurrency,
		OllamaURL:      c.cfg.OllamaURL,
		OllamaModel:    c.cfg.OllamaModel,
		GeminiAPIKey:   c.cfg.GeminiAPIKey,
		GeminiModel:    c.cfg.GeminiModel,
	}
}

func (c *CLI) pipelineSettings() pipeline.Settings {
	return pipeline.Settings{
		Alphabet:      c.cfg.Alphabet,
		Languages:     c.cfg.Languages,
		MaxDimension:  c.cfg.MaxDimension,
		CompareCanvas: c.cfg.CompareCanvas,
		Timeout:       c.cfg.Timeout,
		Workers:       c.cfg.MaxConcurrency,
	}
}

// startEngine builds the configured recognizer and runs its startup check.
func (c *CLI) startEngine(ctx context.Context) (ocr.Recognizer, error) {
	opts := ocr.DefaultOptions(c.cfg.Alphabet, c.cfg.Languages...)
	e, err := engine.Start(ctx, c.engineSettings(), opts)
	if err != nil {
		return nil, fmt.Errorf("recognition engine unavailable: %w", err)
	}
	logger.Infof("recognition engine %s ready", e.Name())
	return e, nil
}

// openRecorder builds the result ledger. A ledger that cannot be opened is
// skipped with a warning; grading works without one.
func (c *CLI) openRecorder(ctx context.Context) store.Recorder {
	var recorders []store.Recorder
	if c.cfg.ResultsCSV != "" {
		recorders = append(recorders, store.NewCSVRecorder(c.cfg.ResultsCSV))
	}
	if c.cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, c.cfg.DatabaseURL)
		if err != nil {
			logger.Warnf("result ledger: postgres disabled: %v", err)
		} else {
			recorders = append(recorders, pg)
		}
	}
	return store.Multi(recorders...)
}

func (c *CLI) serve(args []string) error {
	fs := c.flagSet("serve")
	port := fs.String("port", c.cfg.Port, "HTTP listen port")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	temp, err := tempstore.New(c.cfg.WorkDir, c.cfg.Retention)
	if err != nil {
		return err
	}

	// engine startup failure ends the process; there is nothing to serve without it
	eng, err := c.startEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	recorder := c.openRecorder(ctx)
	defer recorder.Close()

	sweeper := temp.StartSweeper(c.cfg.SweepInterval)
	defer sweeper.Stop()

	clients := pipeline.NewClients(eng, temp, recorder, c.pipelineSettings())
	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           api.NewRouter(api.NewServer(pipeline.NewGrader(clients), c.cfg.MaxUploadBytes, c.cfg.TotalQuestions)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s (work dir %s)", srv.Addr, c.cfg.WorkDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (c *CLI) grade(args []string) error {
	fs := c.flagSet("grade")
	imagePath := fs.String("image", "", "Path to the answer sheet (JPEG or PNG)")
	keyArg := fs.String("key", "", `Answer key, e.g. "A,B,C,D" or "ABCD"`)
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if *imagePath == "" {
		return errors.New("grade: -image is required")
	}

	raw, err := readRawImage(*imagePath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, err := c.startEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()
	recorder := c.openRecorder(ctx)
	defer recorder.Close()

	clients := pipeline.NewClients(eng, nil, recorder, c.pipelineSettings())
	res, err := pipeline.NewGrader(clients).GradeSheet(ctx, raw, omr.ParseAnswerKey(*keyArg))
	if err != nil {
		return err
	}
	return c.printJSON(res)
}

func (c *CLI) compare(args []string) error {
	fs := c.flagSet("compare")
	correctPath := fs.String("correct", "", "Path to the key sheet")
	studentPath := fs.String("student", "", "Path to the student sheet")
	total := fs.Int("total", c.cfg.TotalQuestions, "Number of questions on the sheet")
	diffPath := fs.String("diff", "", "Write the difference image (PNG) to this path")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if *correctPath == "" || *studentPath == "" {
		return errors.New("compare: -correct and -student are required")
	}

	correct, err := readRawImage(*correctPath)
	if err != nil {
		return err
	}
	student, err := readRawImage(*studentPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	recorder := c.openRecorder(ctx)
	defer recorder.Close()

	// the visual path never recognizes text, so no engine is started
	clients := pipeline.NewClients(nil, nil, recorder, c.pipelineSettings())
	res, err := pipeline.NewGrader(clients).CompareSheets(ctx, correct, student, *total)
	if err != nil {
		return err
	}

	if *diffPath != "" {
		if err := os.MkdirAll(filepath.Dir(*diffPath), 0o755); err != nil {
			return fmt.Errorf("creating diff directory: %w", err)
		}
		if err := os.WriteFile(*diffPath, res.DiffImage, 0o644); err != nil {
			return fmt.Errorf("writing diff image: %w", err)
		}
		fmt.Fprintf(c.out, "Diff image saved to: %s\n", *diffPath)
	}
	res.DiffImage = nil
	return c.printJSON(res)
}

func (c *CLI) batch(args []string) error {
	fs := c.flagSet("batch")
	imagesDir := fs.String("images", "images", "Directory containing answer sheets")
	outputDir := fs.String("output", "output", "Output directory for results")
	keyArg := fs.String("key", "", `Answer key, e.g. "A,B,C,D" or "ABCD"`)
	if err := c.parse(fs, args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := c.startEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()
	recorder := c.openRecorder(ctx)
	defer recorder.Close()

	outputFile := filepath.Join(*outputDir, fmt.Sprintf("%s_graded.csv", eng.Name()))
	clients := pipeline.NewClients(eng, nil, recorder, c.pipelineSettings())
	results, failures := pipeline.Run(ctx, clients, *imagesDir, omr.ParseAnswerKey(*keyArg), outputFile)

	for _, path := range sortedKeys(failures) {
		fmt.Fprintf(c.out, "Error processing %s: %v\n", path, failures[path])
	}
	for _, path := range sortedKeys(results) {
		fmt.Fprintf(c.out, "Graded %s: %s\n", path, results[path].Score)
	}
	fmt.Fprintf(c.out, "\nProcessing complete! Results saved to: %s\n", outputFile)
	fmt.Fprintf(c.out, "Processed %d sheets (%d failed)\n", len(results)+len(failures), len(failures))
	return nil
}

func (c *CLI) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readRawImage(path string) (omr.RawImage, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return omr.RawImage{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return omr.RawImage{Name: filepath.Base(path), Data: buf}, nil
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
