// Package main is the tabdoc CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tabdoc/internal/cli"
	"github.com/hyperjump/tabdoc/internal/config"
	"github.com/hyperjump/tabdoc/internal/convert"
	"github.com/hyperjump/tabdoc/internal/docstore"
	"github.com/hyperjump/tabdoc/internal/layout"
	"github.com/hyperjump/tabdoc/internal/metrics"
	"github.com/hyperjump/tabdoc/internal/rpc"
	"github.com/hyperjump/tabdoc/internal/server"
	"github.com/hyperjump/tabdoc/internal/service"
	"github.com/hyperjump/tabdoc/internal/storage"
	"github.com/hyperjump/tabdoc/internal/tabular"
	"github.com/hyperjump/tabdoc/internal/validate"
	"github.com/hyperjump/tabdoc/pkg/utils"
)

var version = "dev"

// errReported means the failure was already printed.
var errReported = errors.New("reported")

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "convert":
		err = runConvert(args, os.Stdout)
	case "serve", "server":
		err = runServe(args)
	case "count":
		err = runCount(args, os.Stdout)
	case "get":
		err = runGet(args, os.Stdout)
	case "query":
		err = runQuery(args, os.Stdout)
	case "upload":
		err = runUpload(args, os.Stdout)
	case "validate":
		err = runValidate(args, os.Stdout)
	case "status":
		err = runStatus(args, os.Stdout)
	case "history":
		err = runHistory(args, os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("tabdoc version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		}
		os.Exit(1)
	}
}

// commonFlags are accepted by every command that reads configuration.
type commonFlags struct {
	configPath string
	envFile    string
	debug      bool
	output     string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", config.DefaultPath, "config file path")
	fs.StringVar(&c.envFile, "env", ".env", "dotenv file applied before the process environment")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.StringVar(&c.output, "output", "text", "output format: text or json")
}

// load resolves the configuration. The config file is only required when
// given explicitly.
func (c *commonFlags) load(fs *flag.FlagSet) (*config.Config, error) {
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Resolve(c.configPath, explicit, c.envFile)
	if err != nil {
		return nil, err
	}
	cfg.Debug = cfg.Debug || c.debug
	return cfg, nil
}

// parseFlags parses args; the flag package has already printed any problem.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errReported
	}
	return nil
}

func (c *commonFlags) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(c.output)
}

func runConvert(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	source := fs.String("source", "", "CSV or XLSX source (default: data.path, or a known file in the working directory)")
	xmlOut := fs.String("xml", "", "output document path (default: document.xml_path)")
	xsdOut := fs.String("xsd", "", "output schema path (default: document.xsd_path)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	if *source != "" {
		cfg.Data.Path = *source
	}
	if *xmlOut != "" {
		cfg.Document.XMLPath = *xmlOut
	}
	if *xsdOut != "" {
		cfg.Document.XSDPath = *xsdOut
	}
	format, err := common.format()
	if err != nil {
		return err
	}
	logger := utils.CLILogger(cfg.Debug)
	defer logger.Sync()

	out, err := convertSource(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	return cli.WriteConvert(stdout, out, format)
}

// convertSource writes the document and schema for the configured source.
func convertSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*cli.ConvertOutput, error) {
	start := time.Now()
	path, err := tabular.ResolvePath(cfg.Data.Path, ".")
	if err != nil {
		return nil, err
	}
	src, err := tabular.Open(path, cfg.SourceOptions())
	if err != nil {
		return nil, err
	}
	defer src.Close()

	l := layout.Resolve(src.Header(), cfg.Overrides())
	logger.Debug("Resolved layout",
		zap.String("source", path),
		zap.String("root", l.RootTag),
		zap.String("item", l.ItemTag),
		zap.String("id_attr", l.IDAttr),
		zap.String("query", l.Query))

	stats, err := convert.WriteFiles(ctx, src, l, cfg.Document.XMLPath, cfg.Document.XSDPath)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	return &cli.ConvertOutput{
		Source:    path,
		XMLPath:   cfg.Document.XMLPath,
		XSDPath:   cfg.Document.XSDPath,
		Records:   stats.Records,
		Columns:   stats.Columns,
		Chunks:    stats.Chunks,
		ChunkSize: stats.ChunkSize,
		Capped:    stats.Capped,
		TookMS:    time.Since(start).Milliseconds(),
	}, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	convertFirst := fs.Bool("convert", false, "convert the configured source before serving")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	logger, err := utils.NewLogger(cfg.Debug, "tabdoc")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *convertFirst {
		out, err := convertSource(ctx, cfg, logger)
		if err != nil {
			return err
		}
		logger.Info("Source converted",
			zap.String("source", out.Source),
			zap.Int("records", out.Records),
			zap.Bool("capped", out.Capped))
	}

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer history.Close()

	m := metrics.New()
	store := docstore.New(
		docstore.WithDefaults(cfg.Layout.ItemTag, cfg.Layout.IDAttr),
		docstore.WithLogger(logger),
	)
	svc := service.New(store, service.Options{
		XMLPath:         cfg.Document.XMLPath,
		XSDPath:         cfg.Document.XSDPath,
		ValidateUploads: cfg.Document.ValidateUploads,
		History:         history,
		Metrics:         m,
		Logger:          logger,
	})
	if err := svc.LoadDocument(); err != nil {
		logger.Warn("No document loaded yet", zap.String("path", cfg.Document.XMLPath), zap.Error(err))
	} else {
		logger.Info("Document loaded", zap.String("path", cfg.Document.XMLPath), zap.Int("records", svc.Count()))
	}

	g, gctx := errgroup.WithContext(ctx)

	var wake <-chan struct{}
	if cfg.Document.WatchOrDefault() {
		w, err := svc.Watch(gctx)
		if err != nil {
			return err
		}
		defer w.Stop()
		wake = w.Wake()
	}

	rpcSrv := rpc.NewServer(svc, &cfg.RPC, m, logger.Named("rpc"))
	xmlSrv := server.NewServer(svc, &cfg.XMLRPC, m, logger.Named("xmlrpc"))

	g.Go(rpcSrv.Start)
	g.Go(func() error {
		if err := svc.WaitForDocument(gctx, wake); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		return xmlSrv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.XMLRPC.ShutdownTimeout)
		defer cancel()
		return errors.Join(rpcSrv.Stop(shutdownCtx), xmlSrv.Stop(shutdownCtx))
	})
	return g.Wait()
}

func openHistory(cfg *config.Config) (storage.History, error) {
	if cfg.History.DatabasePath == "" {
		return storage.NewMemoryHistory(1000), nil
	}
	h, err := storage.NewSQLiteHistory(cfg.History.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open upload history: %w", err)
	}
	return h, nil
}

func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	xmlPath := fs.String("xml", "", "document to validate (default: document.xml_path)")
	xsdPath := fs.String("xsd", "", "schema (default: document.xsd_path)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	format, err := common.format()
	if err != nil {
		return err
	}
	doc := firstNonEmpty(*xmlPath, cfg.Document.XMLPath)
	schema := firstNonEmpty(*xsdPath, cfg.Document.XSDPath)

	err = validate.File(doc, schema)
	problems, invalid := validate.Problems(err)
	if err != nil && !invalid {
		return err
	}
	if format == cli.OutputJSON {
		if problems == nil {
			problems = []validate.Problem{}
		}
		if werr := cli.WriteJSON(stdout, map[string]interface{}{
			"document": doc,
			"schema":   schema,
			"valid":    !invalid,
			"problems": problems,
		}); werr != nil {
			return werr
		}
	} else if invalid {
		fmt.Fprintf(stdout, "%s is NOT valid against %s:\n", doc, schema)
		for _, p := range problems {
			fmt.Fprintf(stdout, "  %s\n", p)
		}
	} else {
		fmt.Fprintf(stdout, "%s is valid against %s\n", doc, schema)
	}
	if invalid {
		return errReported
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tabdoc - tabular data as a queryable XML document

Usage:
  tabdoc convert [flags]              Convert a CSV/XLSX source to XML + XSD
  tabdoc serve [flags]                Serve the document over WebSocket RPC and XML-RPC
  tabdoc count [flags]                Count records
  tabdoc get [flags] <id>             Print one record
  tabdoc query [flags] <xpath>        Evaluate a path query
  tabdoc upload [flags] <xml> [xsd]   Upload a document (WebSocket RPC only)
  tabdoc validate [flags]             Validate a document against its schema
  tabdoc status [flags]               Show server status
  tabdoc history [flags]              List recent uploads
  tabdoc version                      Show version
  tabdoc help                         Show this help

Common Flags:
  --config string    Config file path (default: tabdoc.yaml; optional)
  --env string       Dotenv file (default: .env; optional)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Convert Flags:
  --source string    CSV or XLSX file
  --xml, --xsd       Output paths

Serve Flags:
  --convert          Convert the configured source first

Client Flags (count, get, query, upload):
  --protocol string  ws or xmlrpc (default: ws; upload requires ws)
  --addr string      Server URL (default: derived from config)
  --timeout duration Request timeout (default: 30s)

Status/History Flags:
  --server string    XML-RPC server base URL (default: derived from config)
  --db string        Read upload history from this SQLite file instead of the server

Examples:
  tabdoc convert --source global_house_purchase_dataset.csv
  tabdoc serve --convert
  tabdoc query "//property[city='Lisbon']/price/text()"
  tabdoc query --protocol xmlrpc "count(//property)"
  tabdoc get 42
  tabdoc upload document.xml document.xsd
  tabdoc history --output json`)
}
