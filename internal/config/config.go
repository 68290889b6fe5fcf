package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"SipExchange/pkg/dbconnecter"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	RosterStatic   = "static"
	RosterPostgres = "postgres"
)

type Postgres struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
}

func (p Postgres) Params() dbconnecter.Params {
	return dbconnecter.Params{
		Host:     p.Host,
		Port:     strconv.Itoa(p.Port),
		User:     p.User,
		Password: p.Password,
		DBName:   p.DBName,
	}
}

type Server struct {
	Domain          string   `validate:"required"`
	ListenAddr      string   `validate:"required,hostname_port"`
	WSPath          string   `validate:"required,startswith=/"`
	Roster          []string `validate:"min=1,dive,required"`
	DefaultPassword string   `validate:"required"`
	RosterSource    string   `validate:"oneof=static postgres"`
	LogLevel        string   `validate:"oneof=debug info warn error"`

	// Postgres is checked only when RosterSource is postgres.
	Postgres Postgres `validate:"-"`
}

type Client struct {
	Domain         string        `validate:"required"`
	Server         string        `validate:"required,url"`
	Username       string
	Password       string
	ConnectRetries int           `validate:"min=1"`
	ConnectDelay   time.Duration `validate:"gte=0"`
	ConnectTimeout time.Duration `validate:"gt=0"`
	LogLevel       string        `validate:"oneof=debug info warn error"`
}

// LoadServer reads env files, the environment and then args, in increasing
// precedence.
func LoadServer(args []string, envFiles ...string) (*Server, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	var e envReader
	c := &Server{
		Domain:          e.str("SIP_DOMAIN", "localhost"),
		ListenAddr:      e.str("SIP_LISTEN_ADDR", ":8089"),
		WSPath:          e.str("SIP_WS_PATH", "/"),
		Roster:          e.list("SIP_ROSTER", []string{"1001", "1002"}),
		DefaultPassword: e.str("SIP_DEFAULT_PASSWORD", "defaultpassword"),
		RosterSource:    e.str("SIP_ROSTER_SOURCE", RosterStatic),
		LogLevel:        e.str("LOG_LEVEL", "info"),
		Postgres: Postgres{
			Host:     e.str("POSTGRES_HOST", "localhost"),
			Port:     e.int("POSTGRES_PORT", 5432),
			User:     e.str("POSTGRES_USER", "postgres"),
			Password: e.str("POSTGRES_PASSWORD", ""),
			DBName:   e.str("POSTGRES_DB", "sip_exchange"),
		},
	}
	if e.err != nil {
		return nil, e.err
	}

	flags := pflag.NewFlagSet("pbx", pflag.ContinueOnError)
	flags.StringVar(&c.Domain, "domain", c.Domain, "SIP domain served by the exchange")
	flags.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "HTTP and WebSocket listen address")
	flags.StringVar(&c.WSPath, "ws-path", c.WSPath, "WebSocket signaling path")
	flags.StringSliceVar(&c.Roster, "roster", c.Roster, "usernames allowed to register")
	flags.StringVar(&c.RosterSource, "roster-source", c.RosterSource, "roster source: static or postgres")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := check(c); err != nil {
		return nil, err
	}
	if c.RosterSource == RosterPostgres {
		if err := check(&c.Postgres); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
	}
	return c, nil
}

func LoadClient(args []string, envFiles ...string) (*Client, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	var e envReader
	c := &Client{
		Domain:         e.str("SIP_DOMAIN", "localhost"),
		Server:         e.str("SIP_WS_SERVER", "ws://localhost:8089"),
		Username:       e.str("SIP_USERNAME", ""),
		Password:       e.str("SIP_PASSWORD", ""),
		ConnectRetries: e.int("SIP_CONNECT_RETRIES", 3),
		ConnectDelay:   e.duration("SIP_CONNECT_DELAY", 2*time.Second),
		ConnectTimeout: e.duration("SIP_CONNECT_TIMEOUT", 5*time.Second),
		LogLevel:       e.str("LOG_LEVEL", "info"),
	}
	if e.err != nil {
		return nil, e.err
	}

	flags := pflag.NewFlagSet("softphone", pflag.ContinueOnError)
	flags.StringVar(&c.Domain, "domain", c.Domain, "SIP domain")
	flags.StringVar(&c.Server, "server", c.Server, "WebSocket server URL")
	flags.StringVarP(&c.Username, "user", "u", c.Username, "SIP username, prompted when empty")
	flags.IntVar(&c.ConnectRetries, "retries", c.ConnectRetries, "connection attempts")
	flags.DurationVar(&c.ConnectDelay, "retry-delay", c.ConnectDelay, "delay between connection attempts")
	flags.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "timeout for one connection attempt")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := check(c); err != nil {
		return nil, err
	}
	return c, nil
}

// loadEnvFiles loads .env by default. Missing files are skipped.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// envReader keeps the first conversion error so callers check once.
type envReader struct {
	err error
}

func (e *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) list(key string, def []string) []string {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (e *envReader) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, v)
	}
	return d
}

var validate = validator.New()

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		var text string
		switch e.Tag() {
		case "required":
			text = "field is required"
		case "oneof":
			text = fmt.Sprintf("field is one of %s", e.Param())
		case "min":
			text = fmt.Sprintf("field min %s", e.Param())
		case "max":
			text = fmt.Sprintf("field max %s", e.Param())
		case "url":
			text = "field must be a URL"
		default:
			text = "invalid value"
		}
		msgs = append(msgs, e.Field()+": "+text)
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
