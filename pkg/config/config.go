package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caarlos0/env/v11"
)

const (
	// EngineMustache renders templates with mustache double-brace syntax
	// ({{ recipient.email }}). This is the default.
	EngineMustache = "mustache"
	// EngineGoTemplate renders templates with html/template plus sprig functions
	// ({{ .recipient.email | upper }}).
	EngineGoTemplate = "gotemplate"

	// DebugSleepKey is the environment variable holding the optional startup delay in seconds.
	DebugSleepKey = "debug_sleep"
)

// Secret is the SMTP password. It accepts either a plain string or a JSON
// object of the form {"value": "..."} as produced by some secret stores.
type Secret string

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Secret) UnmarshalText(text []byte) error {
	trimmed := strings.TrimSpace(string(text))
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Value *string `json:"value"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && wrapped.Value != nil {
			*s = Secret(*wrapped.Value)
			return nil
		}
	}
	*s = Secret(text)
	return nil
}

// String masks the secret so it never ends up in logs.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "******"
}

// Template is the decoded HTML template. The environment carries it base64 encoded.
type Template string

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Template) UnmarshalText(text []byte) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("template is not valid base64: %w", err)
	}
	if !utf8.Valid(raw) {
		return errors.New("template is not valid UTF-8")
	}
	*t = Template(raw)
	return nil
}

// Config is the per-invocation mailer configuration sourced from the environment.
type Config struct {
	Host      string   `env:"host,required"`
	Port      int      `env:"port,required"`
	User      string   `env:"user"`
	Password  Secret   `env:"passwd"`
	Sender    string   `env:"sender"`
	Template  Template `env:"template"`
	ProjectID string   `env:"project_id"`

	// TemplateEngine selects how Template is rendered: "mustache" or "gotemplate".
	TemplateEngine string `env:"template_engine" envDefault:"mustache"`
	// InsecureSkipVerify disables TLS certificate verification for the SMTP connection.
	InsecureSkipVerify bool `env:"insecure_skip_verify" envDefault:"false"`

	LogLevel string `env:"log_level" envDefault:"info"`
	Debug    bool   `env:"debug" envDefault:"false"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads the configuration from the given variables. A nil map falls
// back to the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return cfg, fmt.Errorf("error loading mailer configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants the environment parser cannot express.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.TemplateEngine {
	case EngineMustache, EngineGoTemplate:
	default:
		return fmt.Errorf("unknown template engine %q", c.TemplateEngine)
	}
	return nil
}

// Addr returns the SMTP host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SenderAddress returns the envelope sender: the configured sender or, when
// unset, the SMTP username. An empty result means no From header is written.
func (c Config) SenderAddress() string {
	if c.Sender != "" {
		return c.Sender
	}
	return c.User
}

// Fields returns key/value pairs suitable for SugaredLogger.Infow. The
// password and the template body are never included.
func (c Config) Fields() []interface{} {
	return []interface{}{
		"host", c.Host,
		"port", c.Port,
		"user", c.User,
		"sender", c.SenderAddress(),
		"projectID", c.ProjectID,
		"templateEngine", c.TemplateEngine,
		"templateBytes", len(c.Template),
		"insecureSkipVerify", c.InsecureSkipVerify,
	}
}

// DebugSleep returns the optional startup delay. Values that are missing or
// not an integer yield ok=false.
func DebugSleep(vars map[string]string) (delay time.Duration, ok bool) {
	raw, found := vars[DebugSleepKey]
	if !found || raw == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
