// Hydra CLI - automated security-audit orchestration for Solana/Anchor
// smart-contract repositories.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hydra-audit/hydra/internal/artifactstore"
	"github.com/hydra-audit/hydra/internal/cache"
	"github.com/hydra-audit/hydra/internal/config"
	"github.com/hydra-audit/hydra/internal/core"
	"github.com/hydra-audit/hydra/internal/daemon"
	"github.com/hydra-audit/hydra/internal/dispatcher"
	"github.com/hydra-audit/hydra/internal/governance"
	"github.com/hydra-audit/hydra/internal/hashutil"
	"github.com/hydra-audit/hydra/internal/lock"
	"github.com/hydra-audit/hydra/internal/orchestrator"
	"github.com/hydra-audit/hydra/internal/reasoner"
	"github.com/hydra-audit/hydra/internal/reporting"
	"github.com/hydra-audit/hydra/internal/scanners"
)

var version = "0.1.0"

var logger *zap.Logger

func main() {
	var verbose bool
	var yamlConfigPath string

	rootCmd := &cobra.Command{
		Use:     "hydra",
		Short:   "Hydra - automated security-audit orchestration engine",
		Long:    "Dispatches deterministic and LLM-backed scanners over a Solana/Anchor repository, runs an adversarial debate over findings, and proposes verified patches.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(verbose)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Sync()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
	rootCmd.PersistentFlags().StringVar(&yamlConfigPath, "config", "", "YAML config override path")

	rootCmd.AddCommand(scanCmd(&yamlConfigPath))
	rootCmd.AddCommand(diffCmd(&yamlConfigPath))
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(configCmd(&yamlConfigPath))
	rootCmd.AddCommand(daemonCmd(&yamlConfigPath))

	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// newLogger builds a production zap logger with the level gated by
// --verbose, via the standard zap.NewProductionConfig +
// zap.NewAtomicLevelAt idiom.
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func scanCmd(yamlConfigPath *string) *cobra.Command {
	var (
		mode        string
		baseRef     string
		headRef     string
		jsonOut     bool
		sarifPath   string
		adversarial bool
		patch       bool
	)

	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a repository for Solana/Anchor security findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanCommand(scanOptions{
				path:        args[0],
				mode:        mode,
				baseRef:     baseRef,
				headRef:     headRef,
				jsonOut:     jsonOut,
				sarifPath:   sarifPath,
				adversarial: adversarial,
				patch:       patch,
				yamlPath:    *yamlConfigPath,
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "full", "scan mode: full or diff")
	cmd.Flags().StringVar(&baseRef, "base-ref", "", "diff mode base ref")
	cmd.Flags().StringVar(&headRef, "head-ref", "", "diff mode head ref")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the JSON report to stdout")
	cmd.Flags().StringVar(&sarifPath, "sarif", "", "write a SARIF report to this path")
	cmd.Flags().BoolVar(&adversarial, "adversarial", false, "run the red/blue/judge debate over findings")
	cmd.Flags().BoolVar(&patch, "patch", false, "generate and verify patches for confirmed or likely findings (implies --adversarial)")

	return cmd
}

func diffCmd(yamlConfigPath *string) *cobra.Command {
	var (
		baseRef     string
		headRef     string
		jsonOut     bool
		sarifPath   string
		adversarial bool
		patch       bool
	)

	cmd := &cobra.Command{
		Use:   "diff <path>",
		Short: "Alias for \"scan --mode diff\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanCommand(scanOptions{
				path:        args[0],
				mode:        "diff",
				baseRef:     baseRef,
				headRef:     headRef,
				jsonOut:     jsonOut,
				sarifPath:   sarifPath,
				adversarial: adversarial,
				patch:       patch,
				yamlPath:    *yamlConfigPath,
			})
		},
	}

	cmd.Flags().StringVar(&baseRef, "base-ref", "HEAD~1", "diff mode base ref")
	cmd.Flags().StringVar(&headRef, "head-ref", "HEAD", "diff mode head ref")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the JSON report to stdout")
	cmd.Flags().StringVar(&sarifPath, "sarif", "", "write a SARIF report to this path")
	cmd.Flags().BoolVar(&adversarial, "adversarial", false, "run the red/blue/judge debate over findings")
	cmd.Flags().BoolVar(&patch, "patch", false, "generate and verify patches for confirmed or likely findings (implies --adversarial)")

	return cmd
}

type scanOptions struct {
	path        string
	mode        string
	baseRef     string
	headRef     string
	jsonOut     bool
	sarifPath   string
	adversarial bool
	patch       bool
	yamlPath    string
}

func runScanCommand(opts scanOptions) error {
	cfg, err := config.Load(opts.yamlPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	root, err := filepath.Abs(opts.path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	scanMode := core.ModeFull
	if opts.mode == "diff" {
		scanMode = core.ModeDiff
	} else if opts.mode != "" && opts.mode != "full" {
		return fmt.Errorf("invalid --mode %q: must be \"full\" or \"diff\"", opts.mode)
	}

	target := core.ScanTarget{RootPath: root, Mode: scanMode}
	if scanMode == core.ModeDiff {
		if opts.headRef != "" && opts.baseRef == "" {
			return fmt.Errorf("--head-ref given without --base-ref")
		}
		target.Diff = &core.DiffScope{BaseRef: opts.baseRef, HeadRef: opts.headRef}
	}

	engine, err := buildEngine(cfg, root)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	engine.RunAdversarial = opts.adversarial || opts.patch
	engine.RunPatch = opts.patch

	repoLock := buildLocker(cfg, root)
	if err := repoLock.Lock(context.Background()); err != nil {
		return fmt.Errorf("acquiring repo lock: %w", err)
	}
	defer repoLock.Unlock()

	logger.Info("scan starting", zap.String("target", root), zap.String("mode", string(scanMode)))
	report, err := engine.Scan(context.Background(), target)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if err := engine.Cache.Flush(); err != nil {
		logger.Warn("scan cache flush failed", zap.Error(err))
	}
	logger.Info("scan complete",
		zap.Int("findings", len(report.Findings)),
		zap.Bool("policy_blocked", report.PolicyBlocked),
		zap.Int64("duration_ms", report.DurationMs))

	if opts.sarifPath != "" {
		sarif, err := reporting.GenerateSARIFReport(&report)
		if err != nil {
			return fmt.Errorf("generating SARIF report: %w", err)
		}
		if err := os.WriteFile(opts.sarifPath, []byte(sarif), 0o644); err != nil {
			return fmt.Errorf("writing SARIF report: %w", err)
		}
	}

	if opts.jsonOut {
		jsonReport, err := reporting.GenerateJSONReport(&report)
		if err != nil {
			return fmt.Errorf("generating JSON report: %w", err)
		}
		fmt.Println(jsonReport)
	} else {
		fmt.Println(reporting.GenerateMarkdownReport(&report))
	}

	if report.PolicyBlocked {
		return fmt.Errorf("policy blocked: %s", report.PolicyReason)
	}
	return nil
}

// buildEngine assembles an orchestrator.Engine the way every CLI
// subcommand and the daemon need it: reasoner, cache backend, rules,
// and the governance policy gate all selected from cfg.
func buildEngine(cfg config.Config, root string) (*orchestrator.Engine, error) {
	var r reasoner.Reasoner = reasoner.Null{}
	if cfg.ReasonerAPIKey != "" && cfg.ReasonerURL != "" {
		r = reasoner.NewHTTPReasoner(cfg.ReasonerAPIKey, cfg.ReasonerURL)
	}

	engine := orchestrator.New(r)
	engine.Dispatcher = dispatcher.New(cfg.MaxConcurrentAgents)
	engine.MinUncorroboratedConfidence = 80
	engine.Policy = governance.NewPolicyEngine().Gate

	if cfg.RedisAddr != "" {
		engine.Cache = cache.NewRedisCache(cfg.RedisAddr, "hydra")
	} else {
		fc := cache.NewFileCache(filepath.Join(root, ".hydra"), cfg.CacheCapacity)
		if err := fc.Load(); err != nil {
			return nil, fmt.Errorf("loading scan cache: %w", err)
		}
		engine.Cache = fc
	}

	rulesDir := cfg.RulesDir
	if rulesDir == "" {
		rulesDir = findRulesDir()
	}
	if rulesDir != "" {
		rules, err := scanners.LoadRules(rulesDir)
		if err != nil {
			return nil, fmt.Errorf("loading rules from %s: %w", rulesDir, err)
		}
		engine.Rules = rules
	}

	return engine, nil
}

// buildLocker resolves the single-writer lock a run takes over its target's
// scan cache and threat-model store: an etcd-backed distributed lock
// when HYDRA_ETCD_ENDPOINTS is configured (multi-host deployments), a
// local advisory file lock otherwise. Connection failures degrade to the
// file lock rather than aborting the scan.
func buildLocker(cfg config.Config, root string) lock.Locker {
	repoID := hashutil.Short12(root)
	if len(cfg.EtcdEndpoints) > 0 {
		if l, err := lock.NewEtcdLocker(cfg.EtcdEndpoints, "hydra/locks", repoID); err == nil {
			return l
		}
		logger.Warn("etcd lock unavailable, falling back to a local file lock")
	}
	return lock.NewFileLocker(filepath.Join(root, ".hydra"), repoID)
}

func findRulesDir() string {
	if info, err := os.Stat("rules"); err == nil && info.IsDir() {
		abs, _ := filepath.Abs("rules")
		return abs
	}
	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "rules")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}

func reportCmd() *cobra.Command {
	var (
		format     string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "report <file.json>",
		Short: "Render a previously generated JSON report as markdown, json, or sarif",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading report: %w", err)
			}
			var report orchestrator.Report
			if err := json.Unmarshal(data, &report); err != nil {
				return fmt.Errorf("parsing report: %w", err)
			}

			var rendered string
			switch format {
			case "", "markdown":
				rendered = reporting.GenerateMarkdownReport(&report)
			case "json":
				rendered, err = reporting.GenerateJSONReport(&report)
			case "sarif":
				rendered, err = reporting.GenerateSARIFReport(&report)
			default:
				return fmt.Errorf("invalid --format %q: must be markdown, json, or sarif", format)
			}
			if err != nil {
				return err
			}

			if outputPath != "" {
				return os.WriteFile(outputPath, []byte(rendered), 0o644)
			}
			fmt.Println(rendered)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown, json, or sarif")
	cmd.Flags().StringVar(&outputPath, "output", "", "write output to this path instead of stdout")
	return cmd
}

func configCmd(yamlConfigPath *string) *cobra.Command {
	var (
		doInit bool
		doShow bool
		doSet  string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold Hydra's configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case doInit:
				return initConfigFile()
			case doSet != "":
				return setConfigValue(doSet)
			default:
				cfg, err := config.Load(*yamlConfigPath)
				if err != nil {
					return err
				}
				return printConfig(cfg)
			}
		},
	}

	cmd.Flags().BoolVar(&doInit, "init", false, "write a starter .env file to the current directory")
	cmd.Flags().BoolVar(&doShow, "show", false, "print the resolved configuration")
	cmd.Flags().StringVar(&doSet, "set", "", "append a KEY=VALUE pair to .env (does not take effect until next invocation)")
	return cmd
}

func initConfigFile() error {
	const starter = `# Hydra configuration. Values here are read as environment variables.
HYDRA_MAX_CONCURRENT_AGENTS=3
HYDRA_AGENT_TIMEOUT_MS=90000
HYDRA_ALLOW_INSECURE_DEFAULTS=0
`
	if _, err := os.Stat(".env"); err == nil {
		return fmt.Errorf("config: .env already exists")
	}
	return os.WriteFile(".env", []byte(starter), 0o644)
}

func setConfigValue(pair string) error {
	parts := strings.SplitN(pair, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return fmt.Errorf("config: --set expects KEY=VALUE")
	}
	f, err := os.OpenFile(".env", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s=%s\n", parts[0], parts[1])
	return err
}

func printConfig(cfg config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func daemonCmd(yamlConfigPath *string) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the HTTP trigger daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*yamlConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if host != "" {
				cfg.DaemonHost = host
			}
			if port != 0 {
				cfg.DaemonPort = port
			}

			engine, err := buildEngine(cfg, ".")
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}

			var store daemon.RunStore
			if cfg.PostgresDSN != "" {
				pgStore, err := daemon.OpenPostgresRunStore(context.Background(), cfg.PostgresDSN)
				if err != nil {
					return fmt.Errorf("opening postgres run store: %w", err)
				}
				defer pgStore.Close()
				store = pgStore
			}

			archive, err := artifactstore.Open(artifactstore.Config{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				Bucket:    cfg.MinioBucket,
				UseSSL:    cfg.MinioUseSSL,
			})
			if err != nil {
				return fmt.Errorf("opening artifact store: %w", err)
			}

			srv, err := daemon.New(daemon.Config{
				Token:                 cfg.DaemonToken,
				AllowedPaths:          cfg.AllowedPaths,
				AllowInsecureDefaults: cfg.AllowInsecureDefaults,
				Archive:               archive,
				Locker:                func(targetPath string) lock.Locker { return buildLocker(cfg, targetPath) },
			}, engine, store)
			if err != nil {
				return fmt.Errorf("starting daemon: %w", err)
			}

			logger.Info("daemon listening", zap.String("host", cfg.DaemonHost), zap.Int("port", cfg.DaemonPort))
			return srv.ListenAndServe(cfg.DaemonHost, cfg.DaemonPort)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "override the configured daemon host")
	cmd.Flags().IntVar(&port, "port", 0, "override the configured daemon port")
	return cmd
}
