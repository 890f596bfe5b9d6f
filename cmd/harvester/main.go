// Command harvester exports questions, answers, articles, and users from
// a Teams site into a denormalized report file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackharvest/harvester/pkg/api"
	"github.com/stackharvest/harvester/pkg/cache"
	"github.com/stackharvest/harvester/pkg/client"
	"github.com/stackharvest/harvester/pkg/config"
	"github.com/stackharvest/harvester/pkg/harvest"
	"github.com/stackharvest/harvester/pkg/logging"
	"github.com/stackharvest/harvester/pkg/ratelimit"
	"github.com/stackharvest/harvester/pkg/report"
)

type cliFlags struct {
	configPath       string
	baseURL          string
	token            string
	teamSlug         string
	mode             string
	participantsOnly bool
	from             string
	to               string
	datePreset       string
	output           string
	redisAddr        string
	verbose          bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Export Teams site content into a denormalized report",
		Long: `harvester walks the site's users, questions, answers, and articles,
cross-references tag experts and account details, and writes a
user-centric (JSON) or question-centric (CSV) report.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "site base URL")
	cmd.Flags().StringVar(&flags.token, "token", "", "API bearer token")
	cmd.Flags().StringVar(&flags.teamSlug, "team-slug", "", "team slug (hosted Teams only)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "report mode: user or question")
	cmd.Flags().BoolVar(&flags.participantsOnly, "participants-only", false, "limit the user report to active users")
	cmd.Flags().StringVar(&flags.from, "from", "", "user creation filter start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "user creation filter end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.datePreset, "date-preset", "", "rolling filter window: week, month, quarter, year")
	cmd.Flags().StringVar(&flags.output, "output", "", "report file path (default: stdout)")
	cmd.Flags().StringVar(&flags.redisAddr, "redis-addr", "", "Redis address for the lookup cache")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "debug logging")

	return cmd
}

// mergeFlags overlays explicitly set flags onto the loaded config.
func mergeFlags(cmd *cobra.Command, cfg *config.Config, flags *cliFlags) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	set("base-url", func() { cfg.BaseURL = flags.baseURL })
	set("token", func() { cfg.Token = flags.token })
	set("team-slug", func() { cfg.TeamSlug = flags.teamSlug })
	set("mode", func() { cfg.Mode = flags.mode })
	set("participants-only", func() { cfg.ParticipantsOnly = flags.participantsOnly })
	set("from", func() { cfg.From = flags.from })
	set("to", func() { cfg.To = flags.to })
	set("date-preset", func() { cfg.DatePreset = flags.datePreset })
	set("output", func() { cfg.Output = flags.output })
	set("redis-addr", func() { cfg.RedisAddr = flags.redisAddr })
	if flags.verbose {
		cfg.LogLevel = "debug"
	}
}

func run(cmd *cobra.Command, flags *cliFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	mergeFlags(cmd, cfg, flags)

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: true,
		Output: os.Stderr,
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	from, to, filtered, err := cfg.Window(time.Now().UTC())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	harvester, err := buildHarvester(cfg, from, to, filtered, logger)
	if err != nil {
		return err
	}

	ds, summary, err := harvester.Run(ctx)
	if err != nil {
		return fmt.Errorf("harvest aborted: %w", err)
	}

	if err := writeReport(cfg, ds); err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func buildHarvester(cfg *config.Config, from, to time.Time, filtered bool, logger zerolog.Logger) (*harvest.Harvester, error) {
	quota := ratelimit.DefaultConfig()
	if cfg.Quota.BurstRequests > 0 {
		quota.BurstRequests = cfg.Quota.BurstRequests
	}
	if cfg.Quota.BurstWindow > 0 {
		quota.BurstWindow = cfg.Quota.BurstWindow
	}
	if cfg.Quota.BucketMax > 0 {
		quota.BucketMax = cfg.Quota.BucketMax
	}
	if cfg.Quota.BucketRefillRate > 0 {
		quota.BucketRefillRate = cfg.Quota.BucketRefillRate
	}
	if cfg.Quota.BucketRefillInterval > 0 {
		quota.BucketRefillInterval = cfg.Quota.BucketRefillInterval
	}

	governor, err := ratelimit.NewGovernor(quota, logger)
	if err != nil {
		return nil, err
	}

	apiClient, err := client.New(client.Config{
		Token:            cfg.Token,
		Governor:         governor,
		MaxRateLimitWait: cfg.MaxRateLimitWait,
	})
	if err != nil {
		return nil, err
	}

	site, err := api.NewSite(cfg.BaseURL, cfg.TeamSlug)
	if err != nil {
		return nil, err
	}

	counters := &api.CallCounters{}
	endpoints, err := api.New(api.Config{
		Client:      apiClient,
		Site:        site,
		Key:         cfg.Key,
		AccessToken: cfg.AccessToken,
		Counters:    counters,
	})
	if err != nil {
		return nil, err
	}

	var lookupCache *cache.Manager
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Str("addr", cfg.RedisAddr).Err(err).
				Msg("Redis unreachable, continuing without lookup cache")
		} else {
			lookupCache = cache.NewManager(redisClient, 0)
		}
	}

	harvestCfg := harvest.Config{
		API:            endpoints,
		Counters:       counters,
		Cache:          lookupCache,
		Mode:           harvest.Mode(cfg.Mode),
		BurstLimit:     governor.BurstLimit(),
		MaxConcurrency: cfg.MaxConcurrency,
		OnProgress: func(stage string, done, total int) {
			logger.Info().Str("stage", stage).Int("done", done).Int("total", total).Msg("Progress")
		},
	}
	if filtered {
		harvestCfg.From = from
		harvestCfg.To = to
	}

	return harvest.New(harvestCfg)
}

func writeReport(cfg *config.Config, ds *report.Dataset) error {
	var out io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("create output %s: %w", cfg.Output, err)
		}
		defer f.Close()
		out = f
	}

	if cfg.Mode == "question" {
		return report.WriteQuestionsCSV(out, report.QuestionRecords(ds))
	}

	records := report.UserRecords(ds)
	if cfg.ParticipantsOnly {
		records = report.ParticipantsOnly(records)
	}
	return report.WriteUsersJSON(out, records)
}

func printSummary(w io.Writer, s harvest.Summary) {
	fmt.Fprintf(w, "harvest complete in %s\n", s.Duration.Round(time.Second))
	fmt.Fprintf(w, "  users:        %d\n", s.Users.Harvested)
	fmt.Fprintf(w, "  questions:    %d\n", s.Questions.Harvested)
	fmt.Fprintf(w, "  answers:      %d (expected %d, dropped %d)\n",
		s.Answers.Harvested, s.Answers.Expected, s.Answers.Dropped())
	fmt.Fprintf(w, "  articles:     %d\n", s.Articles.Harvested)
	fmt.Fprintf(w, "  tag experts:  %d/%d tags resolved\n", s.TagExperts.Harvested, s.TagExperts.Expected)
	fmt.Fprintf(w, "  user details: %d/%d resolved\n", s.UserDetails.Harvested, s.UserDetails.Expected)
	fmt.Fprintf(w, "  API calls:    %d primary, %d legacy\n", s.PrimaryCalls, s.LegacyCalls)
}
