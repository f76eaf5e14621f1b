// Package config holds the settings a store is opened with. A Config is
// built once at startup and handed to the constructors that need it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/odvcencio/babel/pkg/object"
)

// FileName is the config file inside a store root.
const FileName = "config.toml"

// Backend kinds that can be created. Legacy v0 stores are read, never
// created.
const (
	BackendEmbedded = "embedded"
	BackendFile     = "file"
)

// Config is the whole store configuration.
type Config struct {
	Store   StoreConfig       `toml:"store"`
	User    UserConfig        `toml:"user"`
	Remotes map[string]string `toml:"remotes"`
}

// StoreConfig selects and tunes the storage backend.
type StoreConfig struct {
	Backend  string   `toml:"backend" validate:"required,oneof=embedded file"`
	Digest   string   `toml:"digest" validate:"required,oneof=sha256 blake2b"`
	PoolSize int      `toml:"pool_size" validate:"min=1,max=256"`
	PoolWait Duration `toml:"pool_wait"`
}

// UserConfig identifies the author recorded on new objects and the
// languages preferred when resolving mappings.
type UserConfig struct {
	Name      string   `toml:"name"`
	Email     string   `toml:"email" validate:"omitempty,email"`
	Languages []string `toml:"languages" validate:"min=1,dive,language"`
}

// Duration is a time.Duration spelled as "5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration of a fresh store.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:  BackendEmbedded,
			Digest:   string(object.DefaultAlgorithm),
			PoolSize: 8,
			PoolWait: Duration{5 * time.Second},
		},
		User: UserConfig{
			Name:      getenv("BABEL_USER", os.Getenv("USER")),
			Languages: []string{"eng"},
		},
		Remotes: make(map[string]string),
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		return object.ValidateLanguage(fl.Field().String()) == nil
	})
	return v
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.PoolWait.Duration <= 0 {
		return fmt.Errorf("invalid config: store.pool_wait must be positive")
	}
	return nil
}

// Algorithm returns the configured digest algorithm.
func (c *Config) Algorithm() object.Algorithm {
	alg, err := object.ParseAlgorithm(c.Store.Digest)
	if err != nil {
		return object.DefaultAlgorithm
	}
	return alg
}

// Author formats the user identity recorded on new objects.
func (c *Config) Author() string {
	switch {
	case c.User.Name != "" && c.User.Email != "":
		return fmt.Sprintf("%s <%s>", c.User.Name, c.User.Email)
	case c.User.Email != "":
		return "<" + c.User.Email + ">"
	}
	return c.User.Name
}

// Load reads <root>/config.toml over the defaults. A missing file yields
// Default. Unknown keys are rejected.
func Load(root string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(root, FileName)
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("read config: unknown keys %s", strings.Join(keys, ", "))
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]string)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save atomically writes cfg to <root>/config.toml.
func Save(root string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(root, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(root, FileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// ResolveRoot picks the store root: an explicit value, else
// $BABEL_DIRECTORY, else ~/.babel.
func ResolveRoot(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if dir := os.Getenv("BABEL_DIRECTORY"); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	return filepath.Join(home, ".babel"), nil
}

// Token returns the bearer token for remote sync, if any.
func Token() string {
	return os.Getenv("BABEL_TOKEN")
}

// ObjectStorage is the S3-compatible endpoint used by s3:// remotes.
type ObjectStorage struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Insecure  bool
}

// ObjectStorageFromEnv reads the BABEL_S3_* variables. The endpoint
// defaults to AWS.
func ObjectStorageFromEnv() ObjectStorage {
	return ObjectStorage{
		Endpoint:  getenv("BABEL_S3_ENDPOINT", "s3.amazonaws.com"),
		AccessKey: getenv("BABEL_S3_ACCESS_KEY", os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretKey: getenv("BABEL_S3_SECRET_KEY", os.Getenv("AWS_SECRET_ACCESS_KEY")),
		Region:    os.Getenv("BABEL_S3_REGION"),
		Insecure:  os.Getenv("BABEL_S3_INSECURE") == "1",
	}
}

// Parallelism returns the sync worker count from $BABEL_SYNC_PARALLELISM.
func Parallelism() int {
	return getenvInt("BABEL_SYNC_PARALLELISM", 4)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
