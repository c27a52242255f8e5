package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"fimcheck/hasher"
	"fimcheck/snapshot"
	"fimcheck/version"
)

const (
	CommandInit   = "init"
	CommandVerify = "verify"
	CommandShow   = "show"
)

type Config struct {
	Command             string            `json:"-"`
	Path                string            `json:"path"`
	BaselineFile        string            `json:"baseline_file"`
	Algorithm           string            `json:"algorithm"`
	RootKeyMode         string            `json:"root_key_mode"`
	ConcurrencyLevel    int               `json:"concurrency_level"`
	NiceLevel           string            `json:"nice_level"`
	IncludePatterns     []string          `json:"include_patterns"`
	ExcludePatterns     []string          `json:"exclude_patterns"`
	MaxIOPerSecond      int               `json:"max_io_per_second"`
	ReadMode            string            `json:"read_mode"`
	LogLevel            string            `json:"log_level"`
	ReportFormat        string            `json:"report_format"`
	ReportFile          string            `json:"report_file"`
	ShowStructure       bool              `json:"show_structure"`
	DisableProgress     bool              `json:"disable_progress"`
	ConfigFile          string            `json:"config_file"`
	OtelEndpoint        string            `json:"otel_endpoint"`
	OtelFromEnv         bool              `json:"otel_from_env"`
	OtelHeaders         map[string]string `json:"otel_headers"`
	OtelServiceName     string            `json:"otel_service_name"`
	OtelTimeout         time.Duration     `json:"otel_timeout"`
	OtelExportPaths     bool              `json:"otel_export_paths"`
	HostInfo            bool              `json:"host_info"`
	StallThreshold      time.Duration     `json:"stall_threshold"`
	DiagDir             string            `json:"diag_dir"`
	DiagGoroutine       bool              `json:"diag_goroutine_profile"`
	TraceFlight         bool              `json:"trace_flight"`
	TraceFlightFile     string            `json:"trace_flight_file"`
	TraceFlightMaxBytes uint64            `json:"trace_flight_max_bytes"`
	TraceFlightMinAge   time.Duration     `json:"trace_flight_min_age"`
	ConcurrencySet      bool              `json:"-"`
}

func defaults() *Config {
	return &Config{
		Path:             ".",
		BaselineFile:     "baseline.json",
		Algorithm:        hasher.DefaultAlgorithm,
		RootKeyMode:      snapshot.RootKeyName,
		ConcurrencyLevel: runtime.NumCPU(),
		NiceLevel:        "medium",
		IncludePatterns:  []string{},
		ExcludePatterns:  []string{},
		MaxIOPerSecond:   0,
		ReadMode:         hasher.ReadAuto,
		LogLevel:         "info",
		ReportFormat:     "text",
		ShowStructure:    true,
		OtelHeaders:      map[string]string{},
		OtelServiceName:  "fimcheck",
		OtelTimeout:      5 * time.Second,
		HostInfo:         true,
		DiagDir:          ".",
		TraceFlightFile:  "trace-flight.out",
	}
}

// LoadConfig parses the command line. Flags may appear before or after the
// positional <command> [path] arguments.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	baseline := flag.String("baseline", cfg.BaselineFile, fmt.Sprintf("Baseline file to write (init) or read (verify, show) (default: %s).", cfg.BaselineFile))
	baselineShort := flag.String("b", cfg.BaselineFile, "Shorthand for --baseline.")
	algorithm := flag.String("algorithm", cfg.Algorithm, fmt.Sprintf("Digest algorithm for init: sha256 or blake3 (default: %s).", cfg.Algorithm))
	rootKey := flag.String("root-key", cfg.RootKeyMode, "How the root folder is keyed: name (root base name) or sentinel (empty key) (default: name).")
	concurrency := flag.Int("concurrency", cfg.ConcurrencyLevel, fmt.Sprintf("Number of hashing workers (default: %d).", cfg.ConcurrencyLevel))
	nice := flag.String("nice", cfg.NiceLevel, fmt.Sprintf("Nice level: high, medium, or low (default: %s).", cfg.NiceLevel))
	includes := flag.String("include", "", "Comma-separated list of include patterns (globs on names, regexes on relative paths) (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of exclude patterns; excluded directories are not descended (default: none).")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum files opened per second, 0 for unlimited (default: 0).")
	readMode := flag.String("read-mode", cfg.ReadMode, fmt.Sprintf("File read mode for hashing: auto, stream, or mmap (default: %s).", cfg.ReadMode))
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	format := flag.String("format", cfg.ReportFormat, fmt.Sprintf("Report format: text or json (default: %s).", cfg.ReportFormat))
	reportFile := flag.String("report", "", "Write the report to this file instead of stdout (default: stdout).")
	showStructure := flag.Bool("show-structure", cfg.ShowStructure, fmt.Sprintf("Print the scanned structure after init and verify (default: %t).", cfg.ShowStructure))
	noProgress := flag.Bool("no-progress", cfg.DisableProgress, "Disable the progress bar (default: false).")
	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint for change records (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: fimcheck).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	otelExportPaths := flag.Bool("otel-export-paths", cfg.OtelExportPaths, "Include file paths in OTEL payloads (default: false).")
	hostInfo := flag.Bool("host-info", cfg.HostInfo, fmt.Sprintf("Record host details in report metrics (default: %t).", cfg.HostInfo))
	stallThreshold := flag.Duration("stall-threshold", cfg.StallThreshold, "Write diagnostics when no file finishes hashing for this long, 0 to disable (default: 0).")
	diagDir := flag.String("diag-dir", cfg.DiagDir, fmt.Sprintf("Directory for diagnostics artifacts (default: %s).", cfg.DiagDir))
	diagGoroutine := flag.Bool("diag-goroutine-profile", cfg.DiagGoroutine, "Write a goroutine profile when the scan finishes (default: false).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, fmt.Sprintf("Enable flight recorder tracing (default: %t).", cfg.TraceFlight))
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	traceFlightMaxBytes := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Max bytes for flight recorder buffer (default: 0 for runtime default).")
	traceFlightMinAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum age of trace events to retain (default: 0).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("fimcheck version %s\n", version.Version)
		os.Exit(0)
	}

	positional, err := parseInterspersed(flag.CommandLine)
	if err != nil {
		return nil, err
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "baseline":
			cfg.BaselineFile = *baseline
		case "b":
			cfg.BaselineFile = *baselineShort
		case "algorithm":
			cfg.Algorithm = *algorithm
		case "root-key":
			cfg.RootKeyMode = *rootKey
		case "concurrency":
			cfg.ConcurrencyLevel = *concurrency
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel = *nice
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "read-mode":
			cfg.ReadMode = *readMode
		case "log-level":
			cfg.LogLevel = *logLevel
		case "format":
			cfg.ReportFormat = *format
		case "report":
			cfg.ReportFile = *reportFile
		case "show-structure":
			cfg.ShowStructure = *showStructure
		case "no-progress":
			cfg.DisableProgress = *noProgress
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "otel-export-paths":
			cfg.OtelExportPaths = *otelExportPaths
		case "host-info":
			cfg.HostInfo = *hostInfo
		case "stall-threshold":
			cfg.StallThreshold = *stallThreshold
		case "diag-dir":
			cfg.DiagDir = *diagDir
		case "diag-goroutine-profile":
			cfg.DiagGoroutine = *diagGoroutine
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *traceFlightMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *traceFlightMinAge
		}
	})

	if err := cfg.applyPositional(positional); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.adjustConcurrency()

	return cfg, nil
}

// parseInterspersed keeps parsing flags that follow positional arguments and
// returns the positionals in order.
func parseInterspersed(fs *flag.FlagSet) ([]string, error) {
	var positional []string
	args := fs.Args()
	for len(args) > 0 {
		positional = append(positional, args[0])
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		args = fs.Args()
	}
	return positional, nil
}

func (cfg *Config) applyPositional(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command: expected one of %s, %s, %s", CommandInit, CommandVerify, CommandShow)
	}
	if len(args) > 2 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(args[2:], " "))
	}
	cfg.Command = strings.ToLower(strings.TrimSpace(args[0]))
	if len(args) == 2 {
		cfg.Path = args[1]
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.Algorithm = hasher.Normalize(cfg.Algorithm)
	cfg.RootKeyMode = snapshot.NormalizeRootKeyMode(strings.ToLower(strings.TrimSpace(cfg.RootKeyMode)))
	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.ReadMode = strings.ToLower(strings.TrimSpace(cfg.ReadMode))
	if cfg.ReadMode == "" {
		cfg.ReadMode = hasher.ReadAuto
	}
	cfg.ReportFormat = strings.ToLower(strings.TrimSpace(cfg.ReportFormat))
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = "text"
	}
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "trace-flight.out"
	}
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
	if cfg.OtelServiceName == "" {
		cfg.OtelServiceName = "fimcheck"
	}
}

func displayHelp() {
	fmt.Println("fimcheck - file integrity checker")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fimcheck [options] init [path]     record a baseline of path (default: .)")
	fmt.Println("  fimcheck [options] verify          re-scan the baseline root and report changes")
	fmt.Println("  fimcheck [options] show            print a stored baseline")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Exit status: 0 no changes, 1 changes detected, 2 failure.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fimcheck init /etc -b etc-baseline.json")
	fmt.Println("  fimcheck verify -b etc-baseline.json --format json")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid config file format: %w", err)
	}
	if _, ok := raw["concurrency_level"]; ok {
		cfg.ConcurrencySet = true
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %w", err)
	}
	return nil
}

func (cfg *Config) validate() error {
	switch cfg.Command {
	case CommandInit, CommandVerify, CommandShow:
	default:
		return fmt.Errorf("unknown command: %q (expected %s, %s or %s)", cfg.Command, CommandInit, CommandVerify, CommandShow)
	}
	if strings.TrimSpace(cfg.BaselineFile) == "" {
		return fmt.Errorf("baseline file must be specified")
	}
	if !hasher.Supported(cfg.Algorithm) {
		return fmt.Errorf("invalid algorithm: %s", cfg.Algorithm)
	}
	if cfg.RootKeyMode != snapshot.RootKeyName && cfg.RootKeyMode != snapshot.RootKeySentinel {
		return fmt.Errorf("invalid root-key value: %s", cfg.RootKeyMode)
	}
	if cfg.ReportFormat != "text" && cfg.ReportFormat != "json" {
		return fmt.Errorf("invalid report format: %s", cfg.ReportFormat)
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !hasher.ValidReadMode(cfg.ReadMode) {
		return fmt.Errorf("invalid read mode: %s", cfg.ReadMode)
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.StallThreshold < 0 {
		return fmt.Errorf("stall-threshold must be zero or positive")
	}
	if cfg.TraceFlightMinAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	return nil
}

// adjustConcurrency derives the worker count from the nice level unless it
// was set explicitly.
func (cfg *Config) adjustConcurrency() {
	if cfg.ConcurrencySet {
		return
	}
	numCPU := runtime.NumCPU()
	switch cfg.NiceLevel {
	case "high":
		cfg.ConcurrencyLevel = numCPU
	case "medium":
		cfg.ConcurrencyLevel = numCPU / 2
		if cfg.ConcurrencyLevel < 1 {
			cfg.ConcurrencyLevel = 1
		}
	case "low":
		cfg.ConcurrencyLevel = 1
	}
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(parts[1])
	}
	return headers
}
