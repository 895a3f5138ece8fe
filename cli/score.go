package cli

import (
	"fmt"
	"os"

	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/maintainability"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// scoreSummary is printed by the score command.
type scoreSummary struct {
	Key        string             `yaml:"key"`
	Score      float64            `yaml:"score"`
	Legacy     float64            `yaml:"legacy"`
	LOC        float64            `yaml:"loc"`
	Guidelines map[string]float64 `yaml:"guidelines"`
}

func (a *app) scoreCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "score [<commit-url> | <owner> <project> <sha>]",
		Short: "Print the maintainability score of a cached or saved report",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				key = file
			)
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				raw = data
			} else {
				owner, project, sha, err := commitArgs(args)
				if err != nil {
					return err
				}
				store, release, err := a.openCache(cmd.Context())
				if err != nil {
					return err
				}
				defer release()
				stored, ok, err := cache.NewReports(store).Get(cmd.Context(), owner, project, sha)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s/%s@%s has not been analyzed", owner, project, sha)
				}
				raw, key = stored, cache.CommitKey(owner, project, sha)
			}

			summary, err := summarize(key, raw)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the report from a JSON file instead of the cache")
	return cmd
}

func summarize(key string, raw []byte) (scoreSummary, error) {
	r, err := maintainability.ParseReport(raw)
	if err != nil {
		return scoreSummary{}, err
	}
	score, err := maintainability.Score(r)
	if err != nil {
		return scoreSummary{}, fmt.Errorf("%s: %w", key, err)
	}
	legacy, err := maintainability.Legacy(r)
	if err != nil {
		return scoreSummary{}, err
	}
	per, err := maintainability.ScorePerGuideline(r)
	if err != nil {
		return scoreSummary{}, err
	}
	return scoreSummary{Key: key, Score: score, Legacy: legacy, LOC: maintainability.ProjectLOC(r), Guidelines: per}, nil
}
