package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/receiptflow/ocr-worker/internal/config"
	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/ocr"
	"github.com/receiptflow/ocr-worker/internal/ocr/engine"
	"github.com/receiptflow/ocr-worker/internal/preprocess"
	"github.com/receiptflow/ocr-worker/internal/processor"
	"github.com/receiptflow/ocr-worker/internal/queue"
	"github.com/receiptflow/ocr-worker/internal/raster"
	"github.com/receiptflow/ocr-worker/internal/storage"
)

const usage = `usage: ocr-tool <command> [flags]

commands:
  process [-out file] [-json] [-compare] [-mime type] [-engine name] [-lang code] <file>
      run OCR on a local image or PDF and print the transcript
  submit [-mime type] <file>
      store a file and enqueue it for the worker
  status <document-id>
      show a stored document's processing status
`

type CLI struct {
	stdout io.Writer
	stderr io.Writer

	loadConfig func() (*config.Config, error)
	newEngine  func(engine.Config) (ocr.Engine, error)
}

func NewCLI(stdout, stderr io.Writer) *CLI {
	return &CLI{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.LoadConfig,
		newEngine:  engine.New,
	}
}

func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "process":
		return c.process(ctx, args[1:])
	case "submit":
		return c.submit(ctx, args[1:])
	case "status":
		return c.status(ctx, args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprint(c.stdout, usage)
		return nil
	default:
		fmt.Fprint(c.stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// config loads the configuration and applies its logging settings.
func (c *CLI) config() (*config.Config, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

type processOptions struct {
	outFile    string
	jsonOut    bool
	compare    bool
	mimeType   string
	engineType string
	lang       string
	path       string
}

func (c *CLI) parseProcessArgs(args []string, cfg *config.Config) (*processOptions, error) {
	opts := &processOptions{
		engineType: cfg.OCREngine,
		lang:       cfg.TesseractLang,
	}

	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&opts.outFile, "out", "", "Write the JSON artifact to this file")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print the JSON artifact instead of the transcript")
	fs.BoolVar(&opts.compare, "compare", false, "Report word counts with and without page normalization")
	fs.StringVar(&opts.mimeType, "mime", "", "Media type of the input (default: from extension and content)")
	fs.StringVar(&opts.engineType, "engine", opts.engineType, "OCR engine (gosseract, tesseract-cli)")
	fs.StringVar(&opts.lang, "lang", opts.lang, "Recognition language")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("process takes exactly one file, got %d", fs.NArg())
	}
	opts.path = fs.Arg(0)
	return opts, nil
}

func (c *CLI) process(ctx context.Context, args []string) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	opts, err := c.parseProcessArgs(args, cfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", opts.path, err)
	}

	ocrEngine, err := c.newEngine(engine.Config{
		Type:           opts.engineType,
		Language:       opts.lang,
		TesseractPath:  cfg.TesseractPath,
		TessdataPrefix: cfg.TessdataPrefix,
	})
	if err != nil {
		return err
	}
	defer ocrEngine.Close()

	rasterizer := raster.NewPopplerRasterizer(cfg.PdftoppmPath, cfg.PDFRenderDPI)
	src := &processor.Source{
		DocumentID: filepath.Base(opts.path),
		MimeType:   declaredMediaType(opts.mimeType, opts.path),
		Data:       data,
	}

	result, err := runPipeline(ctx, ocrEngine, rasterizer, preprocess.NewNormalizer(), src)
	if err != nil {
		return err
	}

	if opts.compare {
		baseline, err := runPipeline(ctx, ocrEngine, rasterizer, preprocess.GrayscaleOnly{}, src)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "%-10s words=%d mean_confidence=%.3f\n", "baseline", baseline.WordCount(), meanConfidence(baseline))
		fmt.Fprintf(c.stdout, "%-10s words=%d mean_confidence=%.3f\n", "normalized", result.WordCount(), meanConfidence(result))
	} else if opts.jsonOut {
		if err := storage.EncodeResult(c.stdout, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(c.stdout, result.AggregatedText())
	}

	if opts.outFile != "" {
		if err := writeArtifact(opts.outFile, result); err != nil {
			return err
		}
		fmt.Fprintf(c.stderr, "wrote %s (%d pages, %d words)\n", opts.outFile, len(result.Pages), result.WordCount())
	}
	return nil
}

func runPipeline(ctx context.Context, e ocr.Engine, r raster.Rasterizer, n processor.PageNormalizer, src *processor.Source) (*ocr.DocumentResult, error) {
	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Engine:     e,
		Rasterizer: r,
		Normalizer: n,
	})
	if err != nil {
		return nil, err
	}
	return proc.Process(ctx, src)
}

func writeArtifact(path string, result *ocr.DocumentResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := storage.EncodeResult(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func meanConfidence(result *ocr.DocumentResult) float64 {
	var sum float64
	n := 0
	for _, p := range result.Pages {
		for _, it := range p.Items {
			sum += it.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// declaredMediaType prefers the -mime flag and falls back to the file extension.
func declaredMediaType(flagValue, path string) string {
	if flagValue != "" {
		return flagValue
	}
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
}

func (c *CLI) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	mimeType := fs.String("mime", "", "Media type of the input (default: from extension and content)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("submit takes exactly one file, got %d", fs.NArg())
	}
	path := fs.Arg(0)

	cfg, err := c.config()
	if err != nil {
		return err
	}
	if err := cfg.RequireServices(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	mediaType := raster.ResolveMediaType(declaredMediaType(*mimeType, path), data)
	if !storage.IsAcceptedMediaType(mediaType) {
		return fmt.Errorf("unsupported media type %q for %s", mediaType, path)
	}

	sm, err := storage.NewStorageManager(ctx, cfg.DatabaseURL, cfg.StorageDir)
	if err != nil {
		return err
	}
	defer sm.Close()

	producer, err := queue.NewProducer(cfg.QueueBackend, cfg.RedisURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer producer.Close()

	doc, err := sm.IngestBytes(ctx, filepath.Base(path), mediaType, data, cfg.MaxFileSize)
	if err != nil {
		return err
	}
	jobID, err := producer.Enqueue(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("document %s stored but not queued: %w", doc.ID, err)
	}

	fmt.Fprintf(c.stdout, "%s\n", doc.ID)
	fmt.Fprintf(c.stderr, "queued %s as job %s (%s, %d bytes)\n", path, jobID, mediaType, doc.SizeBytes)
	return nil
}

func (c *CLI) status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("status takes exactly one document ID")
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	sm, err := storage.NewStorageManager(ctx, cfg.DatabaseURL, cfg.StorageDir)
	if err != nil {
		return err
	}
	defer sm.Close()

	doc, err := sm.GetDocument(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "id:       %s\n", doc.ID)
	fmt.Fprintf(c.stdout, "file:     %s (%s, %d bytes)\n", doc.OriginalFilename, doc.MimeType, doc.SizeBytes)
	fmt.Fprintf(c.stdout, "status:   %s\n", doc.Status)
	if doc.OCRJSONPath != "" {
		fmt.Fprintf(c.stdout, "artifact: %s\n", doc.OCRJSONPath)
	}
	if doc.ErrorMessage != "" {
		fmt.Fprintf(c.stdout, "error:    %s\n", doc.ErrorMessage)
	}
	return nil
}
