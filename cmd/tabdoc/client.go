package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/tabdoc/internal/cli"
	"github.com/hyperjump/tabdoc/internal/config"
	"github.com/hyperjump/tabdoc/internal/query"
	"github.com/hyperjump/tabdoc/internal/rpc"
	"github.com/hyperjump/tabdoc/internal/service"
	"github.com/hyperjump/tabdoc/internal/storage"
	"github.com/hyperjump/tabdoc/internal/xmlrpc"
)

const (
	protocolWS     = "ws"
	protocolXMLRPC = "xmlrpc"
)

// clientFlags configure the count, get, query and upload commands.
type clientFlags struct {
	commonFlags
	protocol string
	addr     string
	timeout  time.Duration
}

func (c *clientFlags) register(fs *flag.FlagSet) {
	c.commonFlags.register(fs)
	fs.StringVar(&c.protocol, "protocol", protocolWS, "protocol: ws or xmlrpc")
	fs.StringVar(&c.addr, "addr", "", "server URL (default: derived from config)")
	fs.DurationVar(&c.timeout, "timeout", 30*time.Second, "request timeout")
}

// dialHost turns a listen host into one a client can connect to.
func dialHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::":
		return "localhost"
	}
	return host
}

func wsURL(cfg *config.Config) string {
	return "ws://" + net.JoinHostPort(dialHost(cfg.RPC.Host), strconv.Itoa(cfg.RPC.Port)) + rpc.Path
}

func httpBaseURL(cfg *config.Config) string {
	return "http://" + net.JoinHostPort(dialHost(cfg.XMLRPC.Host), strconv.Itoa(cfg.XMLRPC.Port))
}

// backend is the operation set shared by both protocols.
type backend interface {
	Count(ctx context.Context) (int, error)
	GetByID(ctx context.Context, id int) (string, error)
	Query(ctx context.Context, q string) (*cli.QueryOutput, error)
	Close() error
}

type wsBackend struct{ c *rpc.Client }

func (b wsBackend) Count(ctx context.Context) (int, error) { return b.c.Count(ctx) }
func (b wsBackend) GetByID(ctx context.Context, id int) (string, error) {
	return b.c.GetByID(ctx, id)
}
func (b wsBackend) Query(ctx context.Context, q string) (*cli.QueryOutput, error) {
	res, err := b.c.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return &cli.QueryOutput{Query: q, Kind: res.Kind, Results: res.Results}, nil
}
func (b wsBackend) Close() error { return b.c.Close() }

type xmlrpcBackend struct{ c *xmlrpc.Client }

func (b xmlrpcBackend) Count(ctx context.Context) (int, error) { return b.c.CountRecords(ctx) }
func (b xmlrpcBackend) GetByID(ctx context.Context, id int) (string, error) {
	return b.c.GetRecordByID(ctx, id)
}

// Query maps the XML-RPC shape back onto result kinds: arrays are node-sets,
// a lone string is a scalar unless it carries an error prefix.
func (b xmlrpcBackend) Query(ctx context.Context, q string) (*cli.QueryOutput, error) {
	v, err := b.c.Call(ctx, "execute_xpath", q)
	if err != nil {
		return nil, err
	}
	out := &cli.QueryOutput{Query: q}
	switch x := v.(type) {
	case []any:
		out.Kind = query.Nodes.String()
		out.Results = make([]string, 0, len(x))
		for _, item := range x {
			out.Results = append(out.Results, fmt.Sprint(item))
		}
	case string:
		out.Kind = query.Scalar.String()
		if strings.HasPrefix(x, "query error: ") || x == query.NotLoadedText {
			out.Kind = query.Failed.String()
		}
		out.Results = []string{x}
	default:
		return nil, fmt.Errorf("execute_xpath: unexpected result %T", v)
	}
	return out, nil
}
func (b xmlrpcBackend) Close() error { return nil }

func (c *clientFlags) connect(ctx context.Context, cfg *config.Config) (backend, error) {
	switch c.protocol {
	case protocolWS:
		cl, err := rpc.Dial(ctx, firstNonEmpty(c.addr, wsURL(cfg)))
		if err != nil {
			return nil, err
		}
		return wsBackend{cl}, nil
	case protocolXMLRPC:
		addr := c.addr
		if addr == "" {
			addr = httpBaseURL(cfg) + "/RPC2"
		}
		return xmlrpcBackend{xmlrpc.NewClient(addr, c.timeout)}, nil
	}
	return nil, fmt.Errorf("unknown protocol %q; use ws or xmlrpc", c.protocol)
}

// session is a connected client command.
type session struct {
	fs      *flag.FlagSet
	backend backend
	ctx     context.Context
	cancel  context.CancelFunc
	format  cli.OutputFormat
}

func (s *session) Close() {
	_ = s.backend.Close()
	s.cancel()
}

// openSession parses flags, checks the positional argument count and connects.
func openSession(name string, args []string, positional int) (*session, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if fs.NArg() != positional {
		fs.Usage()
		return nil, errReported
	}
	cfg, err := cf.load(fs)
	if err != nil {
		return nil, err
	}
	format, err := cf.format()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
	b, err := cf.connect(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	return &session{fs: fs, backend: b, ctx: ctx, cancel: cancel, format: format}, nil
}

func runCount(args []string, stdout io.Writer) error {
	s, err := openSession("count", args, 0)
	if err != nil {
		return err
	}
	defer s.Close()
	n, err := s.backend.Count(s.ctx)
	if err != nil {
		return err
	}
	return cli.WriteCount(stdout, n, s.format)
}

func runGet(args []string, stdout io.Writer) error {
	s, err := openSession("get", args, 1)
	if err != nil {
		return err
	}
	defer s.Close()
	id, err := strconv.Atoi(s.fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid id %q: must be an integer", s.fs.Arg(0))
	}
	text, err := s.backend.GetByID(s.ctx, id)
	if err != nil {
		return err
	}
	return cli.WriteRecord(stdout, id, text, s.format)
}

func runQuery(args []string, stdout io.Writer) error {
	s, err := openSession("query", args, 1)
	if err != nil {
		return err
	}
	defer s.Close()
	out, err := s.backend.Query(s.ctx, s.fs.Arg(0))
	if err != nil {
		return err
	}
	if err := cli.WriteQueryResult(stdout, out, s.format); err != nil {
		return err
	}
	if out.Kind == query.Failed.String() {
		return errReported
	}
	return nil
}

func runUpload(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	var cf clientFlags
	cf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return errReported
	}
	if cf.protocol != protocolWS {
		return fmt.Errorf("upload is only available over the ws protocol")
	}
	cfg, err := cf.load(fs)
	if err != nil {
		return err
	}
	format, err := cf.format()
	if err != nil {
		return err
	}
	xmlData, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	var xsdData []byte
	if fs.NArg() == 2 {
		if xsdData, err = os.ReadFile(fs.Arg(1)); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
	defer cancel()
	c, err := rpc.Dial(ctx, firstNonEmpty(cf.addr, wsURL(cfg)))
	if err != nil {
		return err
	}
	defer c.Close()
	res, err := c.Upload(ctx, xmlData, xsdData)
	if err != nil {
		return err
	}
	out := &cli.UploadOutput{OK: res.OK, Message: res.Message, Records: res.Records, UploadID: res.UploadID}
	if err := cli.WriteUpload(stdout, out, format); err != nil {
		return err
	}
	if !res.OK {
		return errReported
	}
	return nil
}

// httpFlags configure the status and history commands.
type httpFlags struct {
	commonFlags
	server string
}

func (h *httpFlags) register(fs *flag.FlagSet) {
	h.commonFlags.register(fs)
	fs.StringVar(&h.server, "server", "", "XML-RPC server base URL (default: derived from config)")
}

func getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runStatus(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	var hf httpFlags
	hf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := hf.load(fs)
	if err != nil {
		return err
	}
	format, err := hf.format()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var st service.Status
	if err := getJSON(ctx, firstNonEmpty(hf.server, httpBaseURL(cfg))+"/api/v1/status", &st); err != nil {
		return err
	}
	if format == cli.OutputJSON {
		return cli.WriteJSON(stdout, st)
	}
	writeStatusText(stdout, &st)
	return nil
}

func writeStatusText(w io.Writer, st *service.Status) {
	fmt.Fprintf(w, "loaded:          %t\n", st.Loaded)
	if st.Loaded {
		fmt.Fprintf(w, "records:         %d   # %s elements keyed by @%s\n", st.Records, st.ItemTag, st.IDAttr)
		fmt.Fprintf(w, "document_bytes:  %d\n", st.DocumentBytes)
		fmt.Fprintf(w, "checksum:        %s\n", st.Checksum)
		if st.LoadedAt != nil {
			fmt.Fprintf(w, "loaded_at:       %s\n", st.LoadedAt.Local().Format(time.RFC3339))
		}
	}
	fmt.Fprintf(w, "uploads:         %d   # %d failed\n", st.Uploads, st.FailedUploads)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# files")
	fmt.Fprintf(w, "xml_path:        %s\n", st.XMLPath)
	if st.XSDPath != "" {
		fmt.Fprintf(w, "xsd_path:        %s\n", st.XSDPath)
	}
	fmt.Fprintf(w, "disk_usage:      %d bytes\n", st.Disk.Total)
}

func runHistory(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	var hf httpFlags
	hf.register(fs)
	dbPath := fs.String("db", "", "read from this SQLite history file instead of the server")
	limit := fs.Int("limit", 20, "number of entries")
	offset := fs.Int("offset", 0, "entries to skip")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg, err := hf.load(fs)
	if err != nil {
		return err
	}
	format, err := hf.format()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var entries []*storage.UploadEntry
	if *dbPath != "" {
		h, err := storage.NewSQLiteHistory(*dbPath)
		if err != nil {
			return err
		}
		defer h.Close()
		if entries, err = h.List(ctx, *offset, *limit); err != nil {
			return err
		}
	} else {
		q := url.Values{}
		q.Set("offset", strconv.Itoa(*offset))
		q.Set("limit", strconv.Itoa(*limit))
		var out struct {
			Uploads []*storage.UploadEntry `json:"uploads"`
		}
		if err := getJSON(ctx, firstNonEmpty(hf.server, httpBaseURL(cfg))+"/api/v1/uploads?"+q.Encode(), &out); err != nil {
			return err
		}
		entries = out.Uploads
	}
	return cli.WriteHistory(stdout, entries, format)
}
