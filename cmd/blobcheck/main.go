package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jacktea/blobcheck/pkg/blob"
	"github.com/jacktea/blobcheck/pkg/diag"
	"github.com/jacktea/blobcheck/pkg/eventlog"
	"github.com/jacktea/blobcheck/pkg/fixture"
	"github.com/jacktea/blobcheck/pkg/match"
	"github.com/jacktea/blobcheck/pkg/server/httpapi"
	"github.com/jacktea/blobcheck/pkg/server/s3gw"
	"github.com/jacktea/blobcheck/pkg/storetest"
)

// errExpectationFailed marks a check whose message was already printed.
var errExpectationFailed = errors.New("expectation failed")

type app struct {
	ctx      context.Context
	archive  *eventlog.Archive
	fixtures *fixture.Resolver
	printer  diag.Printer
	logger   *zap.Logger
	stdout   io.Writer
	stderr   io.Writer
}

func (a *app) ensure() error {
	if a.archive != nil {
		return nil
	}
	logger, err := newLogger(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	archivePath := viper.GetString("archive")
	if dir := filepath.Dir(archivePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("archive dir: %w", err)
		}
	}
	archive, err := eventlog.OpenArchive(eventlog.ArchiveConfig{
		Path:    archivePath,
		Timeout: viper.GetDuration("lock_timeout"),
	})
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	a.ctx = context.Background()
	a.archive = archive
	a.fixtures = fixture.NewOSResolver(viper.GetString("fixtures"))
	a.printer = diag.Printer{Color: useColor(viper.GetString("color"), os.Stderr)}
	a.logger = logger
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	return nil
}

func (a *app) close() {
	if a.fixtures != nil && a.logger != nil {
		stats := a.fixtures.CacheStats()
		a.logger.Debug("fixture digests",
			zap.Int64("hits", stats.Hits),
			zap.Int64("misses", stats.Misses),
			zap.Int("size", stats.Size),
		)
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

var (
	cfgFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "blobcheck",
		Short:         "Inspect archived storage event logs and evaluate storage assertions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensure()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	err := rootCmd.Execute()
	application.close()
	if err != nil {
		if !errors.Is(err, errExpectationFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("blobcheck")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "blobcheck"))
		}
	}
	viper.SetEnvPrefix("BLOBCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")

	rootCmd.PersistentFlags().String("archive", ".blobcheck/events.db", "event log archive (bbolt file)")
	rootCmd.PersistentFlags().String("fixtures", ".", "directory fixture paths are resolved against")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("color", "auto", "colour messages: auto|always|never")
	rootCmd.PersistentFlags().Duration("lock-timeout", 0, "time to wait for the archive file lock (0 uses 1s)")

	bindConfig("archive", rootCmd.PersistentFlags().Lookup("archive"))
	bindConfig("fixtures", rootCmd.PersistentFlags().Lookup("fixtures"))
	bindConfig("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	bindConfig("color", rootCmd.PersistentFlags().Lookup("color"))
	bindConfig("lock_timeout", rootCmd.PersistentFlags().Lookup("lock-timeout"))
}

func initCommands() {
	rootCmd.AddCommand(
		newSnapshotsCmd(),
		newInspectCmd(),
		newDeleteCmd(),
		newRecordCmd(),
		newServeS3Cmd(),
		newServeAPICmd(),
		newStoredCmd(),
		newStoredVersionCmd(),
		newDisposedCmd(),
		newDisposedVersionCmd(),
	)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func useColor(mode string, f *os.File) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	default:
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
}

type versionFlags struct {
	width  int
	height int
	fit    string
	format string
}

func (v *versionFlags) register(flags *pflag.FlagSet) {
	flags.IntVar(&v.width, "width", 0, "version width (0 means auto)")
	flags.IntVar(&v.height, "height", 0, "version height (0 means auto)")
	flags.StringVar(&v.fit, "fit", "", "version fit: cover|contain|fill|inside|outside")
	flags.StringVar(&v.format, "format", "", "version format, e.g. webp")
}

func (v *versionFlags) set() bool {
	return v.width != 0 || v.height != 0 || v.fit != "" || v.format != ""
}

func (v *versionFlags) descriptor() blob.VersionDescriptor {
	return blob.VersionDescriptor{Width: v.width, Height: v.height, Fit: blob.Fit(v.fit), Format: v.format}
}

type checkFlags struct {
	owner   string
	options []string
	negate  bool
}

func (c *checkFlags) register(flags *pflag.FlagSet, withOptions bool) {
	flags.StringVar(&c.owner, "owner", "", "only consider events of this storage owner")
	flags.BoolVar(&c.negate, "not", false, "negate the expectation")
	if withOptions {
		flags.StringArrayVar(&c.options, "option", nil, "expected option as key=value (value parsed as JSON when possible)")
	}
}

func (c *checkFlags) scope() match.Scope {
	if c.owner == "" {
		return storetest.AnyStorage
	}
	return match.Instance(eventlog.OwnerID(c.owner))
}

func newSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List archived event logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doSnapshots(application)
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "Print the stored and disposed tables of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doInspect(application, args[0])
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot>",
		Short: "Remove a snapshot from the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return application.archive.Delete(application.ctx, args[0])
		},
	}
}

func newRecordCmd() *cobra.Command {
	var version versionFlags
	var options []string
	cmd := &cobra.Command{
		Use:   "record <snapshot> <file>...",
		Short: "Store fixture files through a test engine and archive the resulting log",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			var v *blob.VersionDescriptor
			if version.set() {
				d := version.descriptor()
				v = &d
			}
			return doRecord(application, args[0], args[1:], v, opts)
		},
	}
	version.register(cmd.Flags())
	cmd.Flags().StringArrayVar(&options, "option", nil, "option recorded with every store as key=value")
	return cmd
}

func newServeS3Cmd() *cobra.Command {
	var addr, bucket string
	cmd := &cobra.Command{
		Use:   "serve-s3 <snapshot>",
		Short: "Serve a recording S3 endpoint and archive its log on interrupt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return doServeS3(ctx, application, args[0], addr, bucket, viper.GetString("s3_api_key"))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "listen address")
	cmd.Flags().StringVar(&bucket, "bucket", blob.DefaultBucket, "bucket served by the endpoint")
	cmd.Flags().String("api-key", "", "require this key via X-API-Key or a Bearer token")
	bindConfig("s3_api_key", cmd.Flags().Lookup("api-key"))
	return cmd
}

func newServeAPICmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-api",
		Short: "Serve archived snapshots and assertion checks over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := &httpapi.Server{
				Archive:  application.archive,
				Fixtures: application.fixtures,
				Logger:   application.logger,
				Opts:     httpapi.Options{APIKey: viper.GetString("api_key")},
			}
			application.logger.Info("serving api", zap.String("addr", addr))
			return srv.Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().String("api-key", "", "require this key via X-API-Key or a Bearer token")
	bindConfig("api_key", cmd.Flags().Lookup("api-key"))
	return cmd
}

func newStoredCmd() *cobra.Command {
	var check checkFlags
	cmd := &cobra.Command{
		Use:   "stored <snapshot> <file>",
		Short: "Expect a fixture file to have been stored",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(check.options)
			if err != nil {
				return err
			}
			checker, err := application.checker(args[0])
			if err != nil {
				return err
			}
			return application.report(checker.HaveStored(check.scope(), args[1], opts), check.negate)
		},
	}
	check.register(cmd.Flags(), true)
	return cmd
}

func newStoredVersionCmd() *cobra.Command {
	var check checkFlags
	var version versionFlags
	cmd := &cobra.Command{
		Use:   "stored-version <snapshot> <file>",
		Short: "Expect a version of a fixture file to have been stored",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(check.options)
			if err != nil {
				return err
			}
			checker, err := application.checker(args[0])
			if err != nil {
				return err
			}
			return application.report(checker.HaveStoredVersion(check.scope(), args[1], version.descriptor(), opts), check.negate)
		},
	}
	check.register(cmd.Flags(), true)
	version.register(cmd.Flags())
	return cmd
}

func newDisposedCmd() *cobra.Command {
	var check checkFlags
	cmd := &cobra.Command{
		Use:   "disposed <snapshot> <key>",
		Short: "Expect a key to have been disposed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			checker, err := application.checker(args[0])
			if err != nil {
				return err
			}
			return application.report(checker.HaveDisposed(check.scope(), args[1]), check.negate)
		},
	}
	check.register(cmd.Flags(), false)
	return cmd
}

func newDisposedVersionCmd() *cobra.Command {
	var check checkFlags
	var version versionFlags
	cmd := &cobra.Command{
		Use:   "disposed-version <snapshot> <key>",
		Short: "Expect a version of a key to have been disposed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			checker, err := application.checker(args[0])
			if err != nil {
				return err
			}
			return application.report(checker.HaveDisposedVersion(check.scope(), args[1], version.descriptor()), check.negate)
		},
	}
	check.register(cmd.Flags(), false)
	version.register(cmd.Flags())
	return cmd
}

func (a *app) checker(snapshot string) (*storetest.Checker, error) {
	log, err := a.archive.Load(a.ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", snapshot, err)
	}
	return storetest.NewChecker(log, a.fixtures,
		storetest.WithPrinter(a.printer),
		storetest.WithLogger(a.logger),
	), nil
}

func (a *app) report(r storetest.Result, negate bool) error {
	if negate {
		r = r.Not()
	}
	if r.Pass {
		return nil
	}
	fmt.Fprintln(a.stderr, r.Message())
	return errExpectationFailed
}

func doSnapshots(a *app) error {
	names, err := a.archive.List(a.ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(a.stdout, name)
	}
	return nil
}

func doInspect(a *app, name string) error {
	snap, err := a.archive.Snapshot(a.ctx, name)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "snapshot %s saved %s\n\n", snap.Name, snap.SavedAt.Format("2006-01-02 15:04:05"))
	writeEvents(w, "STORED", snap.Stored)
	fmt.Fprintln(w)
	writeEvents(w, "DISPOSED", snap.Disposed)
	return w.Flush()
}

func writeEvents(w io.Writer, title string, events []eventlog.Event) {
	fmt.Fprintf(w, "%s (%d)\n", title, len(events))
	if len(events) == 0 {
		return
	}
	fmt.Fprintln(w, "KEY\tOWNER\tNAME\tMD5\tOPTIONS")
	for _, ev := range events {
		opts := "-"
		if ev.Options != nil {
			opts = diag.Stringify(ev.Options)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ev.Key, ev.Owner, ev.Descriptor.Name, ev.Descriptor.MD5, opts)
	}
}

func doRecord(a *app, snapshot string, files []string, version *blob.VersionDescriptor, opts match.Options) error {
	engine, err := blob.NewTestEngine(blob.EngineOptions{Logger: a.logger})
	if err != nil {
		return err
	}
	storage := engine.NewStorage()
	for _, file := range files {
		clean, data, err := a.fixtures.ReadFile(file)
		if err != nil {
			return err
		}
		key, err := storage.Store(a.ctx, blob.BlobInput{Name: path.Base(clean), Data: data}, opts)
		if err != nil {
			return err
		}
		if version == nil {
			continue
		}
		if _, err := storage.StoreVersion(a.ctx, key, *version, opts); err != nil {
			return err
		}
	}
	for _, key := range engine.Log().Stored().Keys() {
		fmt.Fprintln(a.stdout, key)
	}
	if err := engine.Archive(a.ctx, a.archive, snapshot); err != nil {
		return err
	}
	a.logger.Info("snapshot recorded",
		zap.String("snapshot", snapshot),
		zap.String("owner", string(storage.Owner())),
		zap.Int("files", len(files)),
	)
	return nil
}

func doServeS3(ctx context.Context, a *app, snapshot, addr, bucket, apiKey string) error {
	engine, err := blob.NewTestEngine(blob.EngineOptions{Bucket: bucket, Logger: a.logger})
	if err != nil {
		return err
	}
	storage := engine.NewStorage()
	srv := &s3gw.Server{Storage: storage, Opt: s3gw.Options{APIKey: apiKey, Logger: a.logger}}
	a.logger.Info("serving s3",
		zap.String("addr", addr),
		zap.String("bucket", engine.Bucket()),
		zap.String("owner", string(storage.Owner())),
	)
	if err := srv.Start(ctx, addr); err != nil {
		return err
	}
	if err := engine.Archive(a.ctx, a.archive, snapshot); err != nil {
		return err
	}
	a.logger.Info("snapshot recorded",
		zap.String("snapshot", snapshot),
		zap.Int("stored", engine.Log().Stored().Len()),
		zap.Int("disposed", engine.Log().Disposed().Len()),
	)
	return nil
}

// parseOptions turns key=value pairs into an options map. Values are decoded
// as JSON when they parse, so private=true yields a bool and bucket=x a
// string. No pairs yields nil, which disables option matching.
func parseOptions(pairs []string) (match.Options, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	opts := make(match.Options, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q: want key=value", pair)
		}
		opts[key] = match.ParseValue(raw)
	}
	return opts, nil
}
