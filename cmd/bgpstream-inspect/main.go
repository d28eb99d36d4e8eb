package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bgpstream-go/bgpstream"
	"github.com/bgpstream-go/bgpstream/config"
	"github.com/bgpstream-go/bgpstream/diface"
	"github.com/bgpstream-go/bgpstream/dumpmeta"
	"github.com/bgpstream-go/bgpstream/elem"
	"github.com/bgpstream-go/bgpstream/filter"
	"github.com/bgpstream-go/bgpstream/healthserver"
	"github.com/bgpstream-go/bgpstream/metrics"
	"github.com/bgpstream-go/bgpstream/mrt"
	"github.com/bgpstream-go/bgpstream/record"

	bgpbroker "github.com/bgpstream-go/bgpstream/plugins/broker"
	bgpfile "github.com/bgpstream-go/bgpstream/plugins/file"
	bgphttpiface "github.com/bgpstream-go/bgpstream/plugins/http"
	bgpsql "github.com/bgpstream-go/bgpstream/plugins/sql"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "stream":
		runStream(os.Args[2:])
	case "interfaces":
		runInterfaces(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "maintain":
		runMaintain(os.Args[2:])
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bgpstream-inspect <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  stream       Print a filtered, merged record stream to stdout")
	fmt.Println("  interfaces   List the registered Data Interface plugins")
	fmt.Println("  migrate      Apply the bgpstream_dumps catalog schema")
	fmt.Println("  maintain     Create upcoming and drop expired catalog partitions")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>          Path to configuration YAML file")
	fmt.Println("  --log-level <lvl>        Override log level (debug, info, warn, error)")
	fmt.Println("  --interface <id>         Data Interface plugin to use (file, sql, broker, http)")
	fmt.Println("  --live                   Run in live mode instead of one-shot batch mode")
	fmt.Println("  --project <name>         Repeatable: restrict to one or more projects")
	fmt.Println("  --collector <name>       Repeatable: restrict to one or more collectors")
	fmt.Println("  --peer-asn <asn>         Repeatable: restrict to one or more peer ASNs")
	fmt.Println("  --prefix <cidr>[:mode]   Repeatable: restrict to a prefix match (mode exact|more|less|any)")
	fmt.Println("  --community <asn:val>    Repeatable: restrict to a community")
	fmt.Println("  --element-type <t>       Repeatable: restrict to rib|announcement|withdrawal|peer-state")
	fmt.Println("  --recent <N> <unit>      Time window relative to now, e.g. --recent \"2 h\" (units s, m, h, d)")
	fmt.Println("  --rib-period <duration>  Minimum spacing between accepted RIB dumps")
	fmt.Println("  --migrations-dir <path>  migrate: extra *.sql migrations beyond the built-in baseline")
	fmt.Println("  --retention-days <n>     maintain: days a catalog partition is kept (default from config)")
	fmt.Println("  --retention-timezone <t> maintain: IANA timezone for partition day boundaries")
}

// cliFlags holds the parsed command-line options for the stream command.
// Filter-bearing flags are repeatable and accumulate in order.
type cliFlags struct {
	configPath        string
	logLevel          string
	ifaceID           string
	live              bool
	recent            string
	ribPeriod         string
	projects          []string
	collectors        []string
	peerASNs          []string
	prefixes          []string
	communities       []string
	elemTypes         []string
	ifaceOpts         map[string]string
	migrationsDir     string
	retentionDays     string
	retentionTimezone string
}

func parseFlags(args []string) cliFlags {
	f := cliFlags{ifaceOpts: make(map[string]string)}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() string {
			if i+1 < len(args) {
				i++
				return args[i]
			}
			return ""
		}
		switch arg {
		case "--config":
			f.configPath = next()
		case "--log-level":
			f.logLevel = next()
		case "--interface":
			f.ifaceID = next()
		case "--live":
			f.live = true
		case "--project":
			f.projects = append(f.projects, next())
		case "--collector":
			f.collectors = append(f.collectors, next())
		case "--peer-asn":
			f.peerASNs = append(f.peerASNs, next())
		case "--prefix":
			f.prefixes = append(f.prefixes, next())
		case "--community":
			f.communities = append(f.communities, next())
		case "--element-type":
			f.elemTypes = append(f.elemTypes, next())
		case "--recent":
			f.recent = next()
		case "--rib-period":
			f.ribPeriod = next()
		case "--migrations-dir":
			f.migrationsDir = next()
		case "--retention-days":
			f.retentionDays = next()
		case "--retention-timezone":
			f.retentionTimezone = next()
		default:
			if name, ok := strings.CutPrefix(arg, "--iface-opt:"); ok {
				f.ifaceOpts[name] = next()
			}
		}
	}
	return f
}

func loadConfig(args []string) (*config.Config, cliFlags, *zap.Logger) {
	f := parseFlags(args)

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if f.logLevel != "" {
		cfg.Service.LogLevel = f.logLevel
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, f, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runInterfaces(args []string) {
	_, _, logger := loadConfig(args)
	defer logger.Sync()

	for _, info := range diface.Interfaces() {
		fmt.Printf("%-10s %s\n", info.ID, info.Name)
		for _, opt := range info.Options {
			fmt.Printf("  --iface-opt:%-20s %s\n", opt.Name, opt.Description)
		}
	}
}

func runMigrate(args []string) {
	cfg, f, logger := loadConfig(args)
	defer logger.Sync()

	migrationsDir := cfg.SQL.MigrationsDir
	if f.migrationsDir != "" {
		migrationsDir = f.migrationsDir
	}

	ctx := context.Background()
	pool, err := bgpsql.OpenPool(ctx, cfg.SQL.DSN, bgpsql.PoolOptions{
		MaxConns: cfg.SQL.MaxConns,
		MinConns: cfg.SQL.MinConns,
	})
	if err != nil {
		fatal(logger, "failed to connect to catalog database", err)
	}
	defer pool.Close()

	logger.Info("running catalog migrations", zap.String("migrations_dir", migrationsDir))
	if err := bgpsql.RunMigrations(ctx, pool, migrationsDir, logger); err != nil {
		fatal(logger, "migration failed", err)
	}
	logger.Info("catalog migrations complete")
}

func runMaintain(args []string) {
	cfg, f, logger := loadConfig(args)
	defer logger.Sync()

	days := cfg.Retention.Days
	if f.retentionDays != "" {
		n, err := strconv.Atoi(f.retentionDays)
		if err != nil {
			fatal(logger, "invalid --retention-days", err)
		}
		days = n
	}
	tz := cfg.Retention.Timezone
	if f.retentionTimezone != "" {
		tz = f.retentionTimezone
	}

	ctx := context.Background()
	pool, err := bgpsql.OpenPool(ctx, cfg.SQL.DSN, bgpsql.PoolOptions{
		MaxConns: cfg.SQL.MaxConns,
		MinConns: cfg.SQL.MinConns,
	})
	if err != nil {
		fatal(logger, "failed to connect to catalog database", err)
	}
	defer pool.Close()

	logger.Info("running dump catalog partition maintenance",
		zap.Int("retention_days", days),
		zap.String("timezone", tz),
	)
	pm := bgpsql.NewPartitionManager(pool, days, tz, logger)
	if err := pm.Run(ctx); err != nil {
		fatal(logger, "partition maintenance failed", err)
	}
	logger.Info("partition maintenance complete")
}

// openDump dispatches a dump's URI to the reference plugin able to read it,
// by scheme: "file://" to plugins/file, "http://"/"https://" to plugins/http.
func openDump(meta dumpmeta.Metadata) (mrt.Decoder, error) {
	switch {
	case strings.HasPrefix(meta.URI, "file://"):
		return bgpfile.Open(meta)
	case strings.HasPrefix(meta.URI, "http://"), strings.HasPrefix(meta.URI, "https://"):
		return bgphttpiface.Open(meta)
	default:
		return nil, fmt.Errorf("bgpstream-inspect: no opener for URI %q", meta.URI)
	}
}

// sessionReadiness reports the stream's Start/Destroy lifecycle as a single
// healthserver.Checker: the Data Interface plugin has no generic connectivity
// probe of its own, so readiness here means "the session finished Start and
// has not been torn down yet."
type sessionReadiness struct {
	ready atomic.Bool
}

func (r *sessionReadiness) Name() string { return "data_interface" }

func (r *sessionReadiness) Check(_ context.Context) error {
	if !r.ready.Load() {
		return fmt.Errorf("session not started")
	}
	return nil
}

func runStream(args []string) {
	cfg, f, logger := loadConfig(args)
	defer logger.Sync()

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := bgpstream.New(logger.Named("session"), openDump)

	ifaceID := f.ifaceID
	if ifaceID == "" {
		fmt.Fprintln(os.Stderr, "Error: --interface is required")
		os.Exit(1)
	}
	if err := sess.SetDataInterface(ifaceID); err != nil {
		fatal(logger, "failed to select data interface", err)
	}
	configureInterfaceDefaults(sess, ifaceID, cfg, logger)
	for name, value := range f.ifaceOpts {
		if err := sess.SetDataInterfaceOption(name, value); err != nil {
			fatal(logger, "failed to set data interface option", err)
		}
	}

	if err := sess.SetLiveMode(f.live); err != nil {
		fatal(logger, "failed to set live mode", err)
	}
	if err := applyFilters(sess, f); err != nil {
		fatal(logger, "failed to install filters", err)
	}

	if err := sess.Start(ctx); err != nil {
		fatal(logger, "failed to start session", err)
	}
	defer sess.Destroy()

	readiness := &sessionReadiness{}
	readiness.ready.Store(true)
	defer readiness.ready.Store(false)

	httpServer := healthserver.NewServer(cfg.Service.HTTPListen, []healthserver.Checker{readiness}, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		fatal(logger, "failed to start HTTP server", err)
	}

	logger.Info("streaming started",
		zap.String("interface", ifaceID),
		zap.Bool("live", f.live),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamLoop(ctx, sess, logger)
	}()

	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	wg.Wait()
	logger.Info("bgpstream-inspect stopped")
}

func streamLoop(ctx context.Context, sess *bgpstream.Session, logger *zap.Logger) {
	var rec record.Record
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := sess.NextRecord(ctx, &rec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("NextRecord failed", zap.Error(err))
			return
		}
		if n == 0 {
			logger.Info("stream exhausted")
			return
		}
		for _, e := range elem.Derive(&rec) {
			fmt.Println(elem.Snprintf(e))
		}
		rec.Clear()
	}
}

func applyFilters(sess *bgpstream.Session, f cliFlags) error {
	for _, v := range f.projects {
		if err := sess.AddFilter(filter.ProjectIn, v); err != nil {
			return err
		}
	}
	for _, v := range f.collectors {
		if err := sess.AddFilter(filter.CollectorIn, v); err != nil {
			return err
		}
	}
	for _, v := range f.peerASNs {
		if err := sess.AddFilter(filter.PeerAsnIn, v); err != nil {
			return err
		}
	}
	for _, v := range f.prefixes {
		if err := sess.AddFilter(filter.PrefixMatch, v); err != nil {
			return err
		}
	}
	for _, v := range f.communities {
		if err := sess.AddFilter(filter.CommunityMatch, v); err != nil {
			return err
		}
	}
	for _, v := range f.elemTypes {
		if err := sess.AddFilter(filter.ElementTypeIn, v); err != nil {
			return err
		}
	}
	if f.recent != "" {
		if err := sess.AddRecentIntervalFilter(f.recent, time.Now()); err != nil {
			return err
		}
	}
	if f.ribPeriod != "" {
		d, err := time.ParseDuration(f.ribPeriod)
		if err != nil {
			return fmt.Errorf("bgpstream-inspect: invalid --rib-period %q: %w", f.ribPeriod, err)
		}
		if err := sess.AddRIBPeriodFilter(d); err != nil {
			return err
		}
	}
	return nil
}

// configureInterfaceDefaults seeds the active plugin's options from
// configuration before any --iface-opt: overrides are applied.
func configureInterfaceDefaults(sess *bgpstream.Session, ifaceID string, cfg *config.Config, logger *zap.Logger) {
	var err error
	switch ifaceID {
	case bgpfile.ID:
		err = sess.SetDataInterfaceOption("root_dir", cfg.File.RootDir)
	case bgpsql.ID:
		err = setSQLDefaults(sess, cfg)
	case bgpbroker.ID:
		err = setBrokerDefaults(sess, cfg)
	case bgphttpiface.ID:
		err = sess.SetDataInterfaceOption("index_url", cfg.HTTP.IndexURL)
	default:
		logger.Warn("no configuration defaults known for data interface", zap.String("interface", ifaceID))
		return
	}
	if err != nil {
		fatal(logger, "failed to apply configured data interface defaults", err)
	}
}

func setSQLDefaults(sess *bgpstream.Session, cfg *config.Config) error {
	opts := map[string]string{
		"dsn":            cfg.SQL.DSN,
		"migrations_dir": cfg.SQL.MigrationsDir,
	}
	for name, value := range opts {
		if value == "" {
			continue
		}
		if err := sess.SetDataInterfaceOption(name, value); err != nil {
			return err
		}
	}
	return nil
}

func setBrokerDefaults(sess *bgpstream.Session, cfg *config.Config) error {
	opts := map[string]string{
		"brokers":   strings.Join(cfg.Broker.Brokers, ","),
		"client_id": cfg.Broker.ClientID,
		"group_id":  cfg.Broker.GroupID,
		"topics":    strings.Join(cfg.Broker.Topics, ","),
	}
	for name, value := range opts {
		if value == "" {
			continue
		}
		if err := sess.SetDataInterfaceOption(name, value); err != nil {
			return err
		}
	}
	return nil
}

func fatal(logger *zap.Logger, msg string, err error) {
	logger.Fatal(msg, zap.Error(err))
}
