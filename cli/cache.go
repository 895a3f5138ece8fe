package cli

import (
	"fmt"

	"github.com/secfix-research/maintscan/cache"
	"github.com/spf13/cobra"
)

func (a *app) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the report cache",
	}
	cmd.AddCommand(a.cacheMergeCommand(), a.cacheGetCommand(), a.cacheRemoveCommand(), a.cacheKeysCommand(), a.cacheConvertCommand())
	return cmd
}

func (a *app) cacheMergeCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "merge [source...]",
		Short: "Merge other caches into the configured cache; later sources win",
		RunE: func(cmd *cobra.Command, args []string) error {
			var srcs []cache.Store
			if dir != "" {
				found, err := cache.FindStores(dir)
				if err != nil {
					return err
				}
				srcs = append(srcs, found...)
			}
			for _, loc := range args {
				s, err := cache.Open(cmd.Context(), loc)
				if err != nil {
					return err
				}
				srcs = append(srcs, s)
			}
			if len(srcs) == 0 {
				return fmt.Errorf("nothing to merge: give source caches or --dir")
			}
			dst, release, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			n, err := cache.Merge(cmd.Context(), dst, srcs...)
			if err != nil {
				return err
			}
			a.log.WithField("entries", n).WithField("sources", len(srcs)).Info("caches merged")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "merge every cache file found in this directory")
	return cmd
}

func (a *app) cacheGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <owner/project/sha>",
		Short: "Print a cached report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, release, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			if _, _, _, ok := cache.SplitCommitKey(args[0]); !ok {
				a.log.WithField("key", args[0]).Warn("key is not of the form owner/project/sha")
			}
			raw, ok, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not cached", args[0])
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
}

func (a *app) cacheRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <owner/project/sha>...",
		Short: "Forget cached reports so they are analyzed again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, release, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			for _, key := range args {
				if err := store.Remove(cmd.Context(), key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) cacheKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the cached commits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, release, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			keys, err := store.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func (a *app) cacheConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <out>",
		Short: "Copy the configured cache into a file of another format (.json, .zip or .bson)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, release, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			n, err := cache.Merge(cmd.Context(), cache.NewFileStore(args[0]), src)
			if err != nil {
				return err
			}
			a.log.WithField("entries", n).WithField("out", args[0]).Info("cache converted")
			return nil
		},
	}
}
