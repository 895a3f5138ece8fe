package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/secfix-research/maintscan/config"
	"github.com/secfix-research/maintscan/dataset"
	"github.com/secfix-research/maintscan/github"
	"github.com/secfix-research/maintscan/redis"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func (a *app) analyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Scan commits with BetterCodeHub and cache the reports",
	}
	cmd.AddCommand(a.analyzeCommitCommand(), a.analyzeDatasetCommand(), a.analyzeEnqueueCommand(), a.analyzeWorkerCommand())
	return cmd
}

// commitArgs accepts either a commit URL or owner, project and sha.
func commitArgs(args []string) (owner, project, sha string, err error) {
	switch len(args) {
	case 1:
		return github.ParseCommitURL(args[0])
	case 3:
		return args[0], args[1], args[2], nil
	default:
		return "", "", "", fmt.Errorf("expected a commit URL or <owner> <project> <sha>, got %d arguments", len(args))
	}
}

func (a *app) analyzeCommitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "commit <commit-url> | <owner> <project> <sha>",
		Short: "Analyze one commit",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, project, sha, err := commitArgs(args)
			if err != nil {
				return err
			}
			an, release, err := a.analyzer(cmd)
			if err != nil {
				return err
			}
			defer release()
			return an.RobustAnalyzeCommit(cmd.Context(), owner, project, sha)
		},
	}
}

// commitColumns returns the columns holding the change and its parent.
func commitColumns(regular bool) (string, string) {
	if regular {
		return dataset.ColRegular, dataset.ColRegParent
	}
	return dataset.ColSHA, dataset.ColParent
}

func (a *app) analyzeDatasetCommand() *cobra.Command {
	var regular bool
	cmd := &cobra.Command{
		Use:   "dataset <csv>",
		Short: "Analyze every change of a dataset and its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := dataset.ReadCSV(args[0])
			if err != nil {
				return err
			}
			an, release, err := a.analyzer(cmd)
			if err != nil {
				return err
			}
			defer release()

			shaCol, parentCol := commitColumns(regular)
			st, err := dataset.CollectMaintainability(cmd.Context(), t, an, shaCol, parentCol, a.log, cmd.ErrOrStderr())
			a.log.WithFields(logrus.Fields{"rows": st.Rows, "skipped": st.Skipped, "failed": st.Failed}).Info("dataset analyzed")
			return err
		},
	}
	cmd.Flags().BoolVar(&regular, "regular", false, "use the sha-reg and sha-reg-p columns")
	return cmd
}

func (a *app) redisClient(ctx context.Context) (*goredis.Client, error) {
	if err := a.loader.Require(a.cfg, config.RedisFields...); err != nil {
		return nil, err
	}
	if strings.Contains(a.cfg.RedisURL, "://") {
		return redis.ConnectToRedisURL(ctx, a.cfg.RedisURL)
	}
	return redis.ConnectToRedis(ctx, a.cfg.RedisURL, a.cfg.RedisPassword, a.cfg.RedisDB, a.cfg.RedisTLS)
}

func (a *app) analyzeEnqueueCommand() *cobra.Command {
	var regular bool
	cmd := &cobra.Command{
		Use:   "enqueue <csv>",
		Short: "Queue the commits of a dataset for analysis workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := dataset.ReadCSV(args[0])
			if err != nil {
				return err
			}
			rdb, err := a.redisClient(cmd.Context())
			if err != nil {
				return err
			}
			defer rdb.Close()

			q := redis.NewQueue(rdb, consumerName(), a.log)
			if err := q.EnsureGroup(cmd.Context()); err != nil {
				return err
			}
			shaCol, parentCol := commitColumns(regular)
			jobs := dataset.JobsFromTable(t, shaCol, parentCol)
			for _, job := range jobs {
				if _, err := q.Enqueue(cmd.Context(), job); err != nil {
					return err
				}
			}
			pending, err := q.Pending(cmd.Context())
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{"jobs": len(jobs), "stream": q.Stream, "pending": pending}).Info("jobs queued")
			return nil
		},
	}
	cmd.Flags().BoolVar(&regular, "regular", false, "use the sha-reg and sha-reg-p columns")
	return cmd
}

func (a *app) analyzeWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Analyze queued commits until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rdb, err := a.redisClient(ctx)
			if err != nil {
				return err
			}
			defer rdb.Close()
			an, release, err := a.analyzer(cmd)
			if err != nil {
				return err
			}
			defer release()

			q := redis.NewQueue(rdb, consumerName(), a.log)
			if err := q.EnsureGroup(ctx); err != nil {
				return err
			}
			err = q.Watch(ctx, func(ctx context.Context, job redis.Job) error {
				return an.RobustAnalyzeCommit(ctx, job.Owner, job.Project, job.SHA)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "maintscan"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
