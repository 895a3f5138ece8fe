package cli

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/dataset"
	"github.com/secfix-research/maintscan/gitutil"
	"github.com/secfix-research/maintscan/nvd"
	"github.com/secfix-research/maintscan/redis"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func (a *app) datasetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Build and complete the commit datasets",
	}
	cmd.AddCommand(a.datasetRegularCommand(), a.datasetVulnsCommand(), a.datasetEnrichCommand())
	return cmd
}

func (a *app) datasetRegularCommand() *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "regular <in.csv> <out.csv>",
		Short: "Pick a random regular commit for every project of a dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := dataset.ReadCSV(args[0])
			if err != nil {
				return err
			}
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			s := &dataset.RegularSampler{
				Git:      gitutil.New(a.cfg.GithubToken, a.log.WithField("component", "git")),
				CloneDir: a.cfg.CloneDir,
				Rand:     rand.New(rand.NewPCG(seed, seed>>1)),
				Log:      a.log.WithField("seed", seed),
				Progress: cmd.ErrOrStderr(),
			}
			if err := s.AddRandomRegularCommits(cmd.Context(), t); err != nil {
				return err
			}
			return t.WriteCSV(args[1])
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed; 0 picks one from the clock")
	return cmd
}

func (a *app) datasetVulnsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vulns <out.csv>",
		Short: "Export the verified commits of the vulnerability database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, err := a.redisClient(cmd.Context())
			if err != nil {
				return err
			}
			defer rdb.Close()
			commits, err := redis.VerifiedCommits(cmd.Context(), rdb)
			if err != nil {
				return err
			}
			a.log.WithField("commits", len(commits)).Info("vulnerability database exported")
			return dataset.VulnerabilityRows(commits).WriteCSV(args[0])
		},
	}
}

func (a *app) datasetEnrichCommand() *cobra.Command {
	var (
		skip       []string
		withNVD    bool
		nvdCache   string
		mergeFixes bool
	)
	cmd := &cobra.Command{
		Use:   "enrich <in.csv> <out.csv>",
		Short: "Complete dates, messages, parents, CVE codes and languages from GitHub, and CVE details from NVD",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := dataset.ReadCSV(args[0])
			if err != nil {
				return err
			}
			limiter := a.limiter()
			gh, err := a.githubClient(cmd.Context(), limiter)
			if err != nil {
				return err
			}
			e := &dataset.Enricher{
				GitHub:          gh,
				Concurrency:     a.cfg.GithubConcurrency,
				CheckpointEvery: a.cfg.CheckpointEvery,
				Checkpoint:      args[1],
				SkipOwners:      skip,
				Log:             a.log,
				Progress:        cmd.ErrOrStderr(),
			}
			if withNVD {
				e.NVD = nvd.NewClient(a.cfg.NvdURL, a.cfg.NvdAPIKey, a.cfg.HTTPClientTimeout, limiter, a.log.WithField("component", "nvd"))
				if nvdCache != "" {
					e.NVDCache, err = cache.Open(cmd.Context(), nvdCache)
					if err != nil {
						return err
					}
					if c, ok := e.NVDCache.(io.Closer); ok {
						defer c.Close()
					}
				}
			}
			if err := e.Enrich(cmd.Context(), t); err != nil {
				return err
			}
			if mergeFixes {
				n := dataset.MergeMultipleFixes(t, a.log)
				a.log.WithField("dropped", n).Info("merged multiple fixes")
			}
			a.log.WithFields(logrus.Fields{"rows": t.Len(), "out": args[1]}).Info("dataset enriched")
			return t.WriteCSV(args[1])
		},
	}
	cmd.Flags().StringSliceVar(&skip, "skip-owner", []string{"torvalds"}, "owners whose repositories are too large to compare")
	cmd.Flags().BoolVar(&withNVD, "nvd", true, "add CVSS score, severity and CWE from NVD")
	cmd.Flags().StringVar(&nvdCache, "nvd-cache", "nvd_cache.json", "where NVD answers are kept between runs, empty to disable")
	cmd.Flags().BoolVar(&mergeFixes, "merge-fixes", false, "keep one row per CVE, spanning its first and last fix")
	return cmd
}
