package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectToRedis connects to a single Redis server and checks the
// connection.
func ConnectToRedis(ctx context.Context, addr, password string, db int, useTLS bool) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	if useTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return ping(ctx, redis.NewClient(opts))
}

// ConnectToRedisURL connects to a redis:// or rediss:// URL and checks the
// connection.
func ConnectToRedisURL(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return ping(ctx, redis.NewClient(opts))
}

func ping(ctx context.Context, rdb *redis.Client) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// VerifiedCommits exports the commits marked as verified vulnerability
// fixes. A commit whose class was changed to another known class is
// reported under the new class.
func VerifiedCommits(ctx context.Context, rdb *redis.Client) ([]VulnCommit, error) {
	classes, err := rdb.LRange(ctx, vulnClassesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", vulnClassesKey, err)
	}

	var keys []string
	iter := rdb.Scan(ctx, 0, commitPattern, 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", commitPattern, err)
	}
	sort.Strings(keys)

	var out []VulnCommit
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) != 5 {
			continue
		}
		owner, project := parts[1], parts[2]

		pipe := rdb.Pipeline()
		fields := pipe.HMGet(ctx, key, commitFields...)
		report := pipe.HGet(ctx, fmt.Sprintf("repo:%s:%s:n", owner, project), "report")
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}

		v := stringsOf(fields.Val())
		if v["vuln?"] != "Y" {
			continue
		}
		pattern := v["class"]
		if change := v["change_to"]; change != "" && slices.Contains(classes, change) {
			pattern = change
		}
		out = append(out, VulnCommit{
			Owner:     v["repo_owner"],
			Project:   v["repo_name"],
			SHA:       v["sha"],
			ParentSHA: v["sha-p"],
			Language:  v["lang"],
			Pattern:   pattern,
			Year:      v["year"],
			Reported:  report.Val() == "Y",
		})
	}
	return out, nil
}

func stringsOf(vals []any) map[string]string {
	m := make(map[string]string, len(commitFields))
	for i, f := range commitFields {
		if i < len(vals) {
			if s, ok := vals[i].(string); ok {
				m[f] = s
			}
		}
	}
	return m
}
