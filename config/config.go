package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// credentialFields are skipped by Load and checked by Require.
var credentialFields = func() []string {
	fields := append([]string{}, GithubFields...)
	fields = append(fields, BettercodehubFields...)
	return append(fields, RedisFields...)
}()

func NewLoader(prefix, path string) *Loader {
	v := validator.New()
	return &Loader{Prefix: prefix, Path: path, Validate: v}
}

func (l *Loader) Load() (Config, error) {
	var cfg Config

	if err := loadDotEnv(); err != nil {
		log.Printf("dotenv: %v", err)
	}
	if err := envconfig.Process(l.Prefix, &cfg); err != nil {
		return cfg, fmt.Errorf("env load: %w", err)
	}
	if err := l.loadFile(&cfg); err != nil {
		return cfg, err
	}
	if err := expandPaths(&cfg); err != nil {
		return cfg, err
	}

	if err := l.Validate.StructExcept(cfg, credentialFields...); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Require validates the named credential fields, which Load leaves unchecked.
func (l *Loader) Require(cfg Config, fields ...string) error {
	if err := l.Validate.StructPartial(cfg, fields...); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// Session re-reads the BetterCodeHub credentials so that an operator can
// refresh them in the config file while the process is waiting.
func (l *Loader) Session() (session, xsrfToken string, err error) {
	cfg, err := l.Load()
	if err != nil {
		return "", "", err
	}
	if err := l.Require(cfg, BettercodehubFields...); err != nil {
		return "", "", err
	}
	return cfg.BettercodehubSession, cfg.BettercodehubXsrfToken, nil
}

func (l *Loader) loadFile(cfg *Config) error {
	if l.Path == "" {
		return nil
	}
	path, err := homedir.Expand(l.Path)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("config: %s not found, using environment only", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config read: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("config decode %s: %w", path, err)
	}
	return nil
}

func expandPaths(cfg *Config) error {
	for _, p := range []*string{&cfg.CachePath, &cfg.CloneDir} {
		if strings.Contains(*p, "://") {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func loadDotEnv() error {
	files := []string{".env"}

	if appEnv := strings.TrimSpace(os.Getenv("APP_ENV")); appEnv != "" {
		files = append(files, ".env."+appEnv)
	}
	if goEnv := strings.TrimSpace(os.Getenv("GO_ENV")); goEnv != "" && goEnv != os.Getenv("APP_ENV") {
		files = append(files, ".env."+goEnv)
	}

	var loadedAny bool
	for _, f := range files {
		if fileExists(f) {
			if err := godotenv.Overload(f); err != nil {
				log.Printf("dotenv: failed loading %s: %v", f, err)
				continue
			}
			loadedAny = true
		}
	}

	if !loadedAny {
		return fmt.Errorf("no .env files found (looked for: %s)", strings.Join(files, ", "))
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
