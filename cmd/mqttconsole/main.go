// MQTT Console - interactive publish/subscribe client.
//
// mqttconsole logs in to a broker as one identity, mirrors the broker's
// topic ACL before every publish, tracks the delivery outcome of each
// message and keeps a retained presence with a Last Will. Outcomes are
// printed to the terminal and optionally journalled to SQLite, written to
// InfluxDB and streamed over a local WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/nerrad567/mqtt-console/internal/api"
	"github.com/nerrad567/mqtt-console/internal/console"
	"github.com/nerrad567/mqtt-console/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-console/internal/infrastructure/database"
	"github.com/nerrad567/mqtt-console/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-console/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-console/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-console/internal/journal"
	"github.com/nerrad567/mqtt-console/internal/policy"
	"github.com/nerrad567/mqtt-console/internal/session"
	"github.com/nerrad567/mqtt-console/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// journalBuffer is the number of events the journal sink queues before
// dropping.
const journalBuffer = 256

// options are the parsed command-line flags.
type options struct {
	configPath string
	noColor    bool
	version    bool
	help       bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.version {
		fmt.Printf("mqttconsole %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args. It returns pflag.ErrHelp after printing usage
// for -h/--help.
func parseFlags(args []string, usage io.Writer) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("mqttconsole", pflag.ContinueOnError)
	flagSet.SetOutput(usage)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default: $MQTTCONSOLE_CONFIG or "+config.DefaultPath+")")
	flagSet.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")
	flagSet.BoolVar(&opts.version, "version", false, "print version and exit")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(usage, flagSet)
		}
		return opts, err
	}
	if opts.help {
		printHelp(usage, flagSet)
		return opts, pflag.ErrHelp
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `mqttconsole - interactive MQTT publish/subscribe console.

Usage:
  mqttconsole [flags]

Type 'help' at the prompt for console commands.

Flags:
%s`, flagSet.FlagUsages())
}

// run wires the application and runs the console until quit, end of input
// or a shutdown signal.
func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error {
	configPath, explicit := config.ResolvePath(opts.configPath)
	cfg, err := config.Load(configPath, !explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "closing log: %v\n", closeErr)
		}
	}()
	log.Info("starting mqttconsole",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	rules := policy.Rules{
		SuperUser:       cfg.Policy.SuperUser,
		MonitorUser:     cfg.Policy.MonitorUser,
		CommandPrefix:   cfg.Policy.CommandPrefix,
		TelemetryPrefix: cfg.Policy.TelemetryPrefix,
		PresenceLevel:   cfg.Policy.PresenceLevel,
	}
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	correlation, err := session.ParseCorrelation(cfg.Tracker.Correlation)
	if err != nil {
		return fmt.Errorf("tracker: %w", err)
	}

	renderer := console.NewRenderer(stdout, useColour(opts, stdout))
	sinks := session.MultiSink{renderer}

	// Journal (optional)
	var (
		db          *database.DB
		journalRepo journal.Repository
	)
	if cfg.Journal.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     true,
			BusyTimeout: cfg.Journal.BusyTimeout,
			Migrations:  migrations.FS,
		})
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("migrating journal: %w", migrateErr)
		}
		schema, schemaErr := db.SchemaStatus(ctx)
		if schemaErr != nil {
			return fmt.Errorf("reading journal schema: %w", schemaErr)
		}
		log.Info("journal schema ready",
			"version", schema.Version,
			"applied", schema.Applied,
			"pending", len(schema.Pending),
		)

		journalRepo = journal.NewSQLiteRepository(db.DB)
		journalSink := journal.NewSink(journalRepo, log, journalBuffer)
		defer func() {
			if closeErr := journalSink.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
			if dropped := journalSink.Dropped(); dropped > 0 {
				log.Warn("journal dropped events", "count", dropped)
			}
		}()
		sinks = append(sinks, journalSink)
		log.Info("journal enabled", "path", db.Path())
	} else {
		log.Info("journal disabled")
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, newMetricsSink(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// The hub exists before the manager so it can be one of its sinks.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		sinks = append(sinks, hub)
	}

	dialer := newMQTTDialer(mqtt.Options{
		CAFile:             cfg.Broker.CAFile,
		InsecureSkipVerify: cfg.Broker.InsecureSkipVerify,
		ConnectTimeout:     cfg.GetConnectTimeout(),
		KeepAlive:          cfg.GetKeepAlive(),
		MaxPayload:         cfg.Publish.MaxPayload,
	}, log.With("component", "mqtt"))

	manager := session.NewManager(session.Config{
		Rules:          rules,
		QoS:            byte(cfg.Publish.QoS),
		Correlation:    correlation,
		PendingTimeout: cfg.GetPendingTimeout(),
		SweepInterval:  cfg.GetSweepInterval(),
		ClientIDPrefix: cfg.Broker.ClientIDPrefix,
	}, dialer, sinks)
	manager.SetLogger(log.With("component", "session"))
	defer func() {
		log.Info("ending session")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error ending session", "error", closeErr)
		}
	}()

	// Observer API (optional)
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Session: manager,
			Journal: journalRepo,
			DB:      db,
			Hub:     hub,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		fmt.Fprintf(stdout, "observer API listening on http://%s\n", server.Addr()) //nolint:errcheck // terminal output
	}

	repl := console.New(manager, stdin, renderer, console.Options{
		Host: cfg.Broker.Host,
		Port: cfg.Broker.Port,
		TLS:  cfg.Broker.TLS,
	})
	if journalRepo != nil {
		repl.SetHistory(journalRepo)
	}

	start := time.Now()
	err = repl.Run(ctx)
	log.Info("console stopped", "uptime", time.Since(start).Round(time.Second).String())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// useColour enables colour for terminals unless disabled by flag or NO_COLOR.
func useColour(opts options, out io.Writer) bool {
	if opts.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
