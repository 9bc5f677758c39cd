package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hanpama/graphcache/internal/environment"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/inspect"
	"github.com/hanpama/graphcache/internal/metrics"
	"github.com/hanpama/graphcache/internal/network/grpctransport"
	"github.com/hanpama/graphcache/internal/network/httptransport"
	"github.com/hanpama/graphcache/internal/otel"
	"github.com/hanpama/graphcache/internal/persist/boltstore"
	"github.com/hanpama/graphcache/internal/persist/sqlitestore"
	"github.com/hanpama/graphcache/internal/record"
	"github.com/hanpama/graphcache/internal/schema"
	"github.com/hanpama/graphcache/internal/selector"
	"github.com/hanpama/graphcache/internal/store"
)

const rootUsage = `graphcache — client GraphQL record cache tools

USAGE:
  graphcache <command> [flags]

COMMANDS:
  read             Read a query against a record fixture or persisted store
  inspect          List the records of a persisted store
  serve            Run a cache environment behind the HTTP inspector
  help             Show help for any command
`

const readUsage = `read FLAGS:
  -schema <file>          GraphQL SDL (required)
  -query <file>           GraphQL document holding the operation (required)
  -operation <name>       Operation to read; may be omitted if the document has one
  -vars <json>            Operation variables as a JSON object
  -records <file>         Record fixture, JSON or YAML: {id: record}, links as {"__ref": id}
  -db <file>              Persisted store consulted for records not in the fixture
  -backend <bolt|sqlite>  Persisted store format (default: from the file extension)
  -pretty                 Pretty-print JSON output
`

const inspectUsage = `inspect FLAGS:
  -db <file>              Persisted store (required)
  -backend <bolt|sqlite>  Persisted store format (default: from the file extension)
  -type <name>            Only records of this typename
  -id <id>                Only this record
  -format <json|yaml>     Output format (default: json)
`

const serveUsage = `serve FLAGS:
  -schema <file>                      GraphQL SDL (required)
  -records <file>                     Record fixture published at start
  -db <file>                          Persisted store written through by the cache
  -backend <bolt|sqlite>              Persisted store format (default: from the file extension)
  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -network.http <url>                 GraphQL HTTP endpoint for fetches
  -network.grpc <host:port>           GraphQL gRPC endpoint for fetches. Repeatable
  -transport.conns-per-endpoint N     Client conns per gRPC endpoint (default: 2)
  -transport.rpc-timeout <duration>   RPC timeout, e.g. 3s (default: 3s)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: graphcache)
  -log.level <level>                  Log level (default: info)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("graphcache", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "read":
		return cmdRead(cmdArgs, os.Stdout)
	case "inspect":
		return cmdInspect(cmdArgs, os.Stdout)
	case "serve":
		return cmdServe(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "read":
		fmt.Print(readUsage)
	case "inspect":
		fmt.Print(inspectUsage)
	case "serve":
		fmt.Print(serveUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// ------------------ read ------------------

type readOutput struct {
	Data          map[string]any `json:"data" yaml:"data"`
	MissingData   bool           `json:"missingData" yaml:"missingData"`
	MissingFields []string       `json:"missingFields,omitempty" yaml:"missingFields,omitempty"`
	SeenRecords   []string       `json:"seenRecords" yaml:"seenRecords"`
	Errors        []string       `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func cmdRead(args []string, out io.Writer) error {
	schemaFile := ""
	queryFile := ""
	opName := ""
	varsJSON := ""
	recordsFile := ""
	dbPath := ""
	backend := ""
	pretty := false

	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL")
	fs.StringVar(&queryFile, "query", queryFile, "GraphQL document")
	fs.StringVar(&opName, "operation", opName, "Operation to read")
	fs.StringVar(&varsJSON, "vars", varsJSON, "Operation variables")
	fs.StringVar(&recordsFile, "records", recordsFile, "Record fixture")
	fs.StringVar(&dbPath, "db", dbPath, "Persisted store")
	fs.StringVar(&backend, "backend", backend, "Persisted store format")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print JSON output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, readUsage)
		return err
	}
	if schemaFile == "" || queryFile == "" {
		fmt.Fprint(os.Stderr, readUsage)
		return fmt.Errorf("-schema and -query are required")
	}
	vars := map[string]any{}
	if varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &vars); err != nil {
			return fmt.Errorf("invalid -vars: %w", err)
		}
	}

	sch, err := loadSchema(schemaFile)
	if err != nil {
		return err
	}
	opts := []environment.Option{environment.WithSchema(sch)}
	if dbPath != "" {
		p, err := openPersisted(dbPath, backend)
		if err != nil {
			return err
		}
		defer p.Close()
		opts = append(opts, environment.WithPersister(p))
	}
	env := environment.New(opts...)
	defer env.Dispose()
	if recordsFile != "" {
		if err := seed(env, recordsFile); err != nil {
			return err
		}
	}

	src, err := os.ReadFile(queryFile)
	if err != nil {
		return err
	}
	doc, err := env.Compile(string(src))
	if err != nil {
		return fmt.Errorf("compile %s: %w", queryFile, err)
	}
	op, err := pickOperation(doc, opName)
	if err != nil {
		return err
	}
	vars, err = op.Variables(vars)
	if err != nil {
		return err
	}
	snap, err := env.Lookup(selector.New(op.Root, record.RootID, vars))
	if err != nil {
		return err
	}
	res := readOutput{
		Data:          snap.Data,
		MissingData:   snap.IsMissingData,
		MissingFields: snap.MissingFields,
		SeenRecords:   snap.SeenRecords.Sorted(),
	}
	if snap.Err != nil {
		res.Errors = []string{snap.Err.Error()}
	}
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

func pickOperation(doc *selector.Document, name string) (*selector.Operation, error) {
	if name != "" {
		if op := doc.Operation(name); op != nil {
			return op, nil
		}
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("document has %d operations; set -operation", len(doc.Operations))
	}
	for _, op := range doc.Operations {
		return op, nil
	}
	return nil, nil
}

func loadSchema(path string) (*schema.Schema, error) {
	sdl, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sch, err := schema.BuildFromSDL(filepath.Base(path), string(sdl))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return sch, nil
}

// loadFixture decodes a JSON or YAML record fixture.
func loadFixture(path string) (record.Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &m)
	default:
		err = json.Unmarshal(raw, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return record.DecodeSource(m)
}

func seed(env *environment.Environment, path string) error {
	src, err := loadFixture(path)
	if err != nil {
		return err
	}
	changed, err := env.Store().Publish(src)
	if err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	env.Store().Notify(context.Background(), changed)
	return nil
}

// ------------------ persisted stores ------------------

type persisted interface {
	store.Persister
	Close() error
	Records(typename string) (record.Source, error)
}

type boltPersisted struct{ *boltstore.Store }

func (b boltPersisted) Records(typename string) (record.Source, error) {
	src, err := b.Store.Records()
	if err != nil || typename == "" {
		return src, err
	}
	for id, r := range src {
		if r.Typename() != typename {
			delete(src, id)
		}
	}
	return src, nil
}

type sqlitePersisted struct{ *sqlitestore.Store }

func (s sqlitePersisted) Records(typename string) (record.Source, error) {
	return s.Store.Records(context.Background(), typename)
}

func openPersisted(path, backend string) (persisted, error) {
	if backend == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".sqlite", ".sqlite3":
			backend = "sqlite"
		default:
			backend = "bolt"
		}
	}
	switch backend {
	case "bolt":
		s, err := boltstore.Open(path)
		if err != nil {
			return nil, err
		}
		return boltPersisted{s}, nil
	case "sqlite":
		s, err := sqlitestore.Open(path, nil)
		if err != nil {
			return nil, err
		}
		return sqlitePersisted{s}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// ------------------ inspect ------------------

func cmdInspect(args []string, out io.Writer) error {
	dbPath := ""
	backend := ""
	typename := ""
	id := ""
	format := "json"

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&dbPath, "db", dbPath, "Persisted store")
	fs.StringVar(&backend, "backend", backend, "Persisted store format")
	fs.StringVar(&typename, "type", typename, "Only records of this typename")
	fs.StringVar(&id, "id", id, "Only this record")
	fs.StringVar(&format, "format", format, "Output format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, inspectUsage)
		return err
	}
	if dbPath == "" {
		fmt.Fprint(os.Stderr, inspectUsage)
		return fmt.Errorf("-db is required")
	}
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown format %q", format)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return err
	}
	p, err := openPersisted(dbPath, backend)
	if err != nil {
		return err
	}
	defer p.Close()

	var src record.Source
	if id != "" {
		r, ok, err := p.ReadRecord(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("record %q not found", id)
		}
		src = record.Source{id: r}
	} else if src, err = p.Records(typename); err != nil {
		return err
	}

	wire := make(map[string]any, len(src))
	for rid, r := range src {
		wire[rid] = record.ToWire(r)
	}
	if format == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(wire); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(wire)
}

// ------------------ serve ------------------

func cmdServe(args []string) error {
	schemaFile := ""
	recordsFile := ""
	dbPath := ""
	backend := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	httpEndpoint := ""
	var grpcEndpoints stringListFlag
	connsPerEndpoint := 2
	rpcTimeout := 3 * time.Second
	otelEndpoint := ""
	otelService := "graphcache"
	logLevel := "info"

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL")
	fs.StringVar(&recordsFile, "records", recordsFile, "Record fixture")
	fs.StringVar(&dbPath, "db", dbPath, "Persisted store")
	fs.StringVar(&backend, "backend", backend, "Persisted store format")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.StringVar(&httpEndpoint, "network.http", httpEndpoint, "GraphQL HTTP endpoint")
	fs.Var(&grpcEndpoints, "network.grpc", "GraphQL gRPC endpoint")
	fs.IntVar(&connsPerEndpoint, "transport.conns-per-endpoint", connsPerEndpoint, "Client conns per endpoint")
	fs.DurationVar(&rpcTimeout, "transport.rpc-timeout", rpcTimeout, "RPC timeout")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.StringVar(&logLevel, "log.level", logLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-schema is required")
	}
	if httpEndpoint != "" && len(grpcEndpoints) > 0 {
		return errors.New("-network.http and -network.grpc are exclusive")
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logrus.New()
	logger.SetLevel(level)

	sch, err := loadSchema(schemaFile)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	opts := []environment.Option{
		environment.WithSchema(sch),
		environment.WithLogger(logger),
		environment.WithMetrics(metrics.New(reg)),
	}
	switch {
	case httpEndpoint != "":
		opts = append(opts, environment.WithNetwork(httptransport.New(httpEndpoint)))
	case len(grpcEndpoints) > 0:
		trOpts := []grpctransport.Option{
			grpctransport.WithProvider(grpctransport.NewStatic(grpcEndpoints...)),
			grpctransport.WithConnsPerEndpoint(connsPerEndpoint),
			grpctransport.WithLogger(logger),
		}
		if rpcTimeout > 0 {
			trOpts = append(trOpts, grpctransport.WithRPCTimeout(rpcTimeout))
		}
		tr := grpctransport.New(trOpts...)
		defer tr.Close()
		opts = append(opts, environment.WithNetwork(tr))
	}
	if dbPath != "" {
		p, err := openPersisted(dbPath, backend)
		if err != nil {
			return err
		}
		defer p.Close()
		opts = append(opts, environment.WithPersister(p))
	}
	env := environment.New(opts...)
	defer env.Dispose()
	if recordsFile != "" {
		if err := seed(env, recordsFile); err != nil {
			return err
		}
	}

	var iopts []inspect.Option
	iopts = append(iopts, inspect.WithGatherer(reg), inspect.WithLogger(logger))
	if pretty {
		iopts = append(iopts, inspect.WithPretty())
	}
	if timeout > 0 {
		iopts = append(iopts, inspect.WithTimeout(timeout))
	}
	h := inspect.New(env, iopts...)

	logger.WithFields(logrus.Fields{
		"addr":    addr,
		"routes":  strings.Join(h.Routes(), ","),
		"network": networkName(httpEndpoint, grpcEndpoints),
	}).Info("inspector listening")
	return http.ListenAndServe(addr, h)
}

func networkName(httpEndpoint string, grpcEndpoints []string) string {
	switch {
	case httpEndpoint != "":
		return "http " + httpEndpoint
	case len(grpcEndpoints) > 0:
		return "grpc " + strings.Join(grpcEndpoints, ",")
	default:
		return "none"
	}
}
