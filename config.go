package auth

import (
	"os"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultOneTimeTokenTTL is the lifetime of activation and reset codes
	DefaultOneTimeTokenTTL = 15 * time.Minute
	// DefaultStoreTimeout bounds every store call
	DefaultStoreTimeout = 10 * time.Second
	// DefaultTokenExpiration is the session token lifetime in hours
	DefaultTokenExpiration = 24
)

// Options is the file backed Config implementation
type Options struct {
	SigningKey        string        `yaml:"signing_key"`
	SigningMethod     string        `yaml:"signing_method"`
	ContextKey        string        `yaml:"context_key"`
	TokenExpiration   int           `yaml:"token_expiration"`
	TokenLookup       string        `yaml:"token_lookup"`
	AuthScheme        string        `yaml:"auth_scheme"`
	Issuer            string        `yaml:"issuer"`
	Audience          []string      `yaml:"audience"`
	OneTimeTokenTTL   time.Duration `yaml:"one_time_token_ttl"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
	RequireActivation bool          `yaml:"require_activation"`
	LoginRate         float64       `yaml:"login_rate"`
	LoginBurst        int           `yaml:"login_burst"`

	DatabaseDriver    string `yaml:"database_driver"`
	DatabaseDSN       string `yaml:"database_dsn"`
	RedisURL          string `yaml:"redis_url"`
	RevocationBackend string `yaml:"revocation_backend"`
	PurgeSchedule     string `yaml:"purge_schedule"`
	HTTPAddr          string `yaml:"http_addr"`
}

var _ Config = (*Options)(nil)

// DefaultOptions returns Options with every default applied
func DefaultOptions() *Options {
	return &Options{
		SigningMethod:     "HS256",
		ContextKey:        "user",
		TokenExpiration:   DefaultTokenExpiration,
		TokenLookup:       "header:Authorization",
		AuthScheme:        "Bearer",
		OneTimeTokenTTL:   DefaultOneTimeTokenTTL,
		StoreTimeout:      DefaultStoreTimeout,
		LoginRate:         0.1,
		LoginBurst:        5,
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       "file:auth.db?cache=shared",
		RevocationBackend: "memory",
		PurgeSchedule:     "@every 1h",
		HTTPAddr:          ":8080",
	}
}

// LoadOptions reads a YAML file on top of DefaultOptions
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read config file").
			WithMetadata(map[string]any{"path": path})
	}

	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse config file").
			WithMetadata(map[string]any{"path": path})
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

// Validate checks the options that have no usable default
func (o *Options) Validate() error {
	if o.SigningKey == "" {
		return goerrors.New("signing_key is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	if o.SigningMethod != "" && o.SigningMethod != "HS256" {
		return goerrors.New("only HS256 signing is supported", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"signing_method": o.SigningMethod})
	}
	return nil
}

func (o *Options) GetSigningKey() string {
	return o.SigningKey
}

func (o *Options) GetSigningMethod() string {
	if o.SigningMethod == "" {
		return "HS256"
	}
	return o.SigningMethod
}

func (o *Options) GetContextKey() string {
	if o.ContextKey == "" {
		return "user"
	}
	return o.ContextKey
}

func (o *Options) GetTokenExpiration() int {
	if o.TokenExpiration <= 0 {
		return DefaultTokenExpiration
	}
	return o.TokenExpiration
}

func (o *Options) GetTokenLookup() string {
	if o.TokenLookup == "" {
		return "header:Authorization"
	}
	return o.TokenLookup
}

func (o *Options) GetAuthScheme() string {
	if o.AuthScheme == "" {
		return "Bearer"
	}
	return o.AuthScheme
}

func (o *Options) GetIssuer() string {
	return o.Issuer
}

func (o *Options) GetAudience() []string {
	return o.Audience
}

func (o *Options) GetOneTimeTokenTTL() time.Duration {
	if o.OneTimeTokenTTL <= 0 {
		return DefaultOneTimeTokenTTL
	}
	return o.OneTimeTokenTTL
}

func (o *Options) GetStoreTimeout() time.Duration {
	if o.StoreTimeout <= 0 {
		return DefaultStoreTimeout
	}
	return o.StoreTimeout
}

func (o *Options) GetRequireActivation() bool {
	return o.RequireActivation
}
