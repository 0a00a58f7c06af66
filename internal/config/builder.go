package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"reflect"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "BAZAAR_"

// Load builds the configuration from args (without the program name), the
// environment and the YAML file named by -config or BAZAAR_CONFIG. It returns
// flag.ErrHelp when help was requested.
func Load(args []string, usage io.Writer) (*Config, error) {
	return newBuilder().
		withFlags(args, usage).
		withEnv().
		withFile().
		withDefaults().
		build()
}

type builder struct {
	configs []*Config
	err     error
}

func newBuilder() *builder {
	return &builder{configs: make([]*Config, 0, 4)}
}

// build merges the collected configs; earlier ones win.
func (b *builder) build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}

	cfg := new(Config)
	for _, c := range b.configs {
		if err := mergo.Merge(cfg, c, mergo.WithTransformers(firstSet{})); err != nil {
			return nil, fmt.Errorf("merging configs: %w", err)
		}
	}

	return cfg, cfg.validate()
}

// firstSet keeps the first non-nil *bool. Plain merging would replace an
// explicit false with a lower priority true.
type firstSet struct{}

func (firstSet) Transformer(t reflect.Type) func(dst, src reflect.Value) error {
	if t != reflect.TypeFor[*bool]() {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if dst.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}

func (b *builder) withFlags(args []string, usage io.Writer) *builder {
	if b.err != nil {
		return b
	}
	cfg, err := parseFlags(args, usage)
	if err != nil {
		b.err = err
		return b
	}
	b.configs = append(b.configs, cfg)
	return b
}

func (b *builder) withEnv() *builder {
	if b.err != nil {
		return b
	}
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		b.err = fmt.Errorf("reading environment: %w", err)
		return b
	}
	b.configs = append(b.configs, cfg)
	return b
}

func (b *builder) withFile() *builder {
	if b.err != nil {
		return b
	}
	var path string
	for _, c := range b.configs {
		if c.File != "" {
			path = c.File
			break
		}
	}
	if path == "" {
		return b
	}

	cfg, err := parseFile(path)
	if err != nil {
		b.err = err
		return b
	}
	cfg.File = path
	b.configs = append(b.configs, cfg)
	return b
}

func (b *builder) withDefaults() *builder {
	b.configs = append(b.configs, Default())
	return b
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

const usageText = `Usage: bazaar [flags]

Flags:
  -a, -addr <host:port>     listen address (default: :8080)
  -u, -url <url>            public base URL used in picture links
  -d, -db <path>            SQLite database path (default: bazaar.sqlite3)
  -c, -config <path>        YAML config file
  -l, -log <path>           log file path (default: stdout only)
      -log-level <level>    debug, info, warn or error (default: info)
      -token-ttl <dur>      session token lifetime (default: 168h)
      -max-upload <bytes>   largest accepted upload (default: 10485760)
      -redis <host:port>    Redis address for the change relay
      -metrics              expose Prometheus metrics on /metrics
  -h, -help                 show this help and exit

Every flag can also be set with a BAZAAR_ environment variable, e.g.
BAZAAR_ADDR, BAZAAR_DB, BAZAAR_REDIS_ADDR.
`

func parseFlags(args []string, usage io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("bazaar", flag.ContinueOnError)
	fs.SetOutput(usage)

	cfg := &Config{}
	fs.StringVar(&cfg.Addr, "addr", "", "")
	fs.StringVar(&cfg.Addr, "a", "", "")
	fs.StringVar(&cfg.PublicURL, "url", "", "")
	fs.StringVar(&cfg.PublicURL, "u", "", "")
	fs.StringVar(&cfg.DBPath, "db", "", "")
	fs.StringVar(&cfg.DBPath, "d", "", "")
	fs.StringVar(&cfg.File, "config", "", "")
	fs.StringVar(&cfg.File, "c", "", "")
	fs.StringVar(&cfg.LogFile, "log", "", "")
	fs.StringVar(&cfg.LogFile, "l", "", "")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", 0, "")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload", 0, "")
	fs.StringVar(&cfg.Redis.Addr, "redis", "", "")
	var metrics bool
	fs.BoolVar(&metrics, "metrics", false, "")

	fs.Usage = func() {
		fmt.Fprint(usage, usageText)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, flag.ErrHelp
		}
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "metrics" {
			cfg.Metrics = &metrics
		}
	})
	return cfg, nil
}
