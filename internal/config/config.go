package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatTree = "tree"
)

// CustomAttribute is a span attribute computed from an expression.
type CustomAttribute struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"PROCTREE_LOG_LEVEL"`
	Format string `yaml:"format" env:"PROCTREE_LOG_FORMAT"`
}

// NATSConfig holds report publishing settings. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url" env:"PROCTREE_NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TelemetryConfig holds span export settings.
type TelemetryConfig struct {
	Enabled    bool              `yaml:"enabled"`
	TraceID    string            `yaml:"trace_id" env:"PROCTREE_TRACE_ID"`
	ParentID   string            `yaml:"parent_id" env:"PROCTREE_PARENT_ID"`
	Attributes []CustomAttribute `yaml:"attributes"`
}

// Config holds the resolved configuration of one proctree invocation.
type Config struct {
	// Input is the behavior log to replay, "-" for stdin. Empty in live mode.
	Input string `yaml:"-"`
	// Output is the destination file, stdout when empty.
	Output string `yaml:"output"`
	Format string `yaml:"format"`
	Indent bool   `yaml:"indent"`
	// Sort orders replayed events by sequence before reconstruction.
	Sort bool `yaml:"sort"`
	// RunID names the analysis run; generated when empty.
	RunID string `yaml:"-"`

	// Live mode traces Command with eBPF instead of replaying a log.
	Live      bool     `yaml:"-"`
	BPFObject string   `yaml:"bpf_object"`
	Command   string   `yaml:"-"`
	Args      []string `yaml:"-"`

	Logging   LoggingConfig   `yaml:"logging"`
	NATS      NATSConfig      `yaml:"nats"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	ShowVersion bool `yaml:"-"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Format:    FormatJSON,
		BPFObject: "/usr/lib/proctree/proctree.bpf.o",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		NATS: NATSConfig{
			SubjectPrefix: "sandbox.behavior.processtree",
		},
	}
}

// LoadFile merges a YAML configuration file into cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Usage prints the command synopsis and flags.
func Usage(w io.Writer, programName string, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage:\n  %s [flags] <behavior.jsonl | ->\n  %s --live [flags] -- <command> [args...]\n\nFlags:\n",
		programName, programName)
	fmt.Fprint(w, fs.FlagUsages())
}

// ParseArgs builds the configuration from defaults, an optional config file,
// the environment and finally command-line flags, in increasing precedence.
// args[0] is the program name.
func ParseArgs(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, errors.New("no arguments provided")
	}
	programName := args[0]

	var (
		configPath string
		attrFlags  []string
		flagCfg    Config
	)

	fs := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&flagCfg.Output, "output", "o", "", "write the tree to this file instead of stdout")
	fs.StringVarP(&flagCfg.Format, "format", "f", FormatJSON, "output format: json or tree")
	fs.BoolVar(&flagCfg.Indent, "indent", false, "indent JSON output")
	fs.BoolVar(&flagCfg.Sort, "sort", false, "order replayed events by sequence instead of rejecting stragglers")
	fs.StringVar(&flagCfg.RunID, "run-id", "", "analysis run identifier (default: random UUID)")
	fs.BoolVar(&flagCfg.Live, "live", false, "trace a command with eBPF instead of replaying a log")
	fs.StringVar(&flagCfg.BPFObject, "bpf-object", "", "compiled eBPF object used in live mode")
	fs.StringVar(&flagCfg.Logging.Level, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&flagCfg.Logging.Format, "log-format", "", "console or json")
	fs.StringVar(&flagCfg.NATS.URL, "nats-url", "", "publish the tree to this NATS server")
	fs.StringVar(&flagCfg.NATS.SubjectPrefix, "nats-subject", "", "NATS subject prefix; the run id is appended")
	fs.BoolVar(&flagCfg.Telemetry.Enabled, "otel", false, "export the tree as OpenTelemetry spans")
	fs.StringVarP(&flagCfg.Telemetry.TraceID, "trace-id", "t", "", "trace ID expression")
	fs.StringVarP(&flagCfg.Telemetry.ParentID, "parent-id", "p", "", "parent span ID expression")
	fs.StringArrayVarP(&attrFlags, "attr", "a", nil, "custom span attribute NAME=EXPR (repeatable)")
	fs.BoolVarP(&flagCfg.ShowVersion, "version", "v", false, "print version information")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			var b strings.Builder
			Usage(&b, programName, fs)
			return nil, fmt.Errorf("%w\n%s", err, b.String())
		}
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	cfg := Default()
	if configPath != "" {
		if err := LoadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	applyFlags(fs, cfg, &flagCfg)

	for _, raw := range attrFlags {
		attr, err := ParseCustomAttribute(raw)
		if err != nil {
			return nil, err
		}
		cfg.Telemetry.Attributes = append(cfg.Telemetry.Attributes, attr)
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	if err := cfg.positional(fs); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// applyFlags copies explicitly set flags over the file and environment values.
func applyFlags(fs *pflag.FlagSet, cfg, f *Config) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("output", func() { cfg.Output = f.Output })
	set("format", func() { cfg.Format = f.Format })
	set("indent", func() { cfg.Indent = f.Indent })
	set("sort", func() { cfg.Sort = f.Sort })
	set("run-id", func() { cfg.RunID = f.RunID })
	set("live", func() { cfg.Live = f.Live })
	set("bpf-object", func() { cfg.BPFObject = f.BPFObject })
	set("log-level", func() { cfg.Logging.Level = f.Logging.Level })
	set("log-format", func() { cfg.Logging.Format = f.Logging.Format })
	set("nats-url", func() { cfg.NATS.URL = f.NATS.URL })
	set("nats-subject", func() { cfg.NATS.SubjectPrefix = f.NATS.SubjectPrefix })
	set("otel", func() { cfg.Telemetry.Enabled = f.Telemetry.Enabled })
	set("trace-id", func() { cfg.Telemetry.TraceID = f.Telemetry.TraceID })
	set("parent-id", func() { cfg.Telemetry.ParentID = f.Telemetry.ParentID })
	set("version", func() { cfg.ShowVersion = f.ShowVersion })
}

// positional interprets the non-flag arguments: a log path in replay mode,
// the command after "--" in live mode.
func (c *Config) positional(fs *pflag.FlagSet) error {
	rest := fs.Args()

	if c.Live {
		dash := fs.ArgsLenAtDash()
		if dash < 0 || dash >= len(rest) {
			return errors.New("no command specified: use --live [flags] -- <command> [args...]")
		}
		c.Command = rest[dash]
		c.Args = rest[dash+1:]
		return nil
	}

	switch len(rest) {
	case 0:
		return errors.New("no behavior log specified: pass a file path or - for stdin")
	case 1:
		c.Input = rest[0]
		return nil
	default:
		return fmt.Errorf("expected a single behavior log, got %d arguments", len(rest))
	}
}

// Validate checks values that flags and files cannot constrain by type.
func (c *Config) Validate() error {
	if c.Format != FormatJSON && c.Format != FormatTree {
		return fmt.Errorf("unknown output format %q: want %s or %s", c.Format, FormatJSON, FormatTree)
	}
	if c.Live && c.BPFObject == "" {
		return errors.New("live mode requires --bpf-object")
	}
	for _, attr := range c.Telemetry.Attributes {
		if attr.Name == "" || attr.Expression == "" {
			return fmt.Errorf("custom attribute %q: name and expression are required", attr.Name)
		}
	}
	return nil
}

// ParseCustomAttribute parses a NAME=EXPR flag value. Only the first '='
// separates; the expression may contain more.
func ParseCustomAttribute(raw string) (CustomAttribute, error) {
	name, expression, found := strings.Cut(raw, "=")
	if !found {
		return CustomAttribute{}, fmt.Errorf("invalid attribute format %q: expected NAME=EXPR", raw)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: name cannot be empty", raw)
	}
	if strings.TrimSpace(expression) == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: expression cannot be empty", raw)
	}
	return CustomAttribute{Name: name, Expression: expression}, nil
}
