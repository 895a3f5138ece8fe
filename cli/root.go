// Package cli is the maintscan command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/secfix-research/maintscan/bettercodehub"
	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/config"
	"github.com/secfix-research/maintscan/github"
	"github.com/secfix-research/maintscan/gitutil"
	"github.com/secfix-research/maintscan/logging"
	"github.com/secfix-research/maintscan/ratelimit"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

// app holds what every command shares: flags, configuration and logger.
type app struct {
	configPath string
	logLevel   string
	cachePath  string

	loader *config.Loader
	cfg    config.Config
	log    *logrus.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "maintscan",
		Short:         "Measure the maintainability impact of security fixes",
		Long:          "maintscan scans commits with BetterCodeHub, caches the reports and compares security fixes with regular changes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "config.json", "configuration file (JSON or YAML)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error; overrides the configuration")
	flags.StringVar(&a.cachePath, "cache", "", "report cache: .json, .zip, .bson or redis:// URL; overrides the configuration")

	root.AddCommand(
		a.analyzeCommand(),
		a.scoreCommand(),
		a.datasetCommand(),
		a.reportCommand(),
		a.cacheCommand(),
	)
	return root
}

// Run executes the command tree and returns the process exit code.
func Run(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	return ExitSuccess
}

func (a *app) setup(logOut io.Writer) error {
	a.loader = config.NewLoader("APP", a.configPath)
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.cachePath != "" {
		cfg.CachePath = a.cachePath
	}
	log, err := logging.New(cfg.LogLevel, logOut)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) limiter() *ratelimit.Limiter {
	return ratelimit.New(a.cfg.GithubRateLimit, a.cfg.BettercodehubRateLimit).WithNVD(a.cfg.NvdRateLimit)
}

func (a *app) githubClient(ctx context.Context, limiter *ratelimit.Limiter) (*github.Client, error) {
	if err := a.loader.Require(a.cfg, config.GithubFields...); err != nil {
		return nil, err
	}
	return github.NewClient(ctx, github.Options{
		Token:          a.cfg.GithubToken,
		AppClientID:    a.cfg.GithubAppClientID,
		AppPrivateKey:  []byte(a.cfg.GithubAppPrivateKey),
		InstallationID: a.cfg.GithubInstallationID,
		Limiter:        limiter,
		CacheSize:      a.cfg.CacheSize,
		Logger:         a.log.WithField("component", "github"),
	})
}

// openCache opens the report cache. The returned function releases it.
func (a *app) openCache(ctx context.Context) (cache.Store, func(), error) {
	store, err := cache.Open(ctx, a.cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return store, release, nil
}

// analyzer wires BetterCodeHub, GitHub, git and the cache together.
func (a *app) analyzer(cmd *cobra.Command) (*bettercodehub.Analyzer, func(), error) {
	ctx := cmd.Context()
	if err := a.loader.Require(a.cfg, config.BettercodehubFields...); err != nil {
		return nil, nil, err
	}
	limiter := a.limiter()
	gh, err := a.githubClient(ctx, limiter)
	if err != nil {
		return nil, nil, err
	}
	store, release, err := a.openCache(ctx)
	if err != nil {
		return nil, nil, err
	}

	bch := bettercodehub.NewClient(a.cfg.BettercodehubURL, a.loader.Session, a.cfg.HTTPClientTimeout,
		limiter, a.log.WithField("component", "bettercodehub"))
	git := gitutil.New(a.cfg.GithubToken, a.log.WithField("component", "git"))
	op := newStdinOperator(cmd.InOrStdin(), cmd.ErrOrStderr())

	an := bettercodehub.NewAnalyzer(cache.NewReports(store), bch, gh, git, op, a.log)
	an.PropagationDelay = a.cfg.PropagationDelay
	an.ScanStartDelay = a.cfg.ScanStartDelay
	return an, release, nil
}
