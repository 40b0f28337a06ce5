package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nimora/nimora/internal/config"
	"github.com/nimora/nimora/internal/metrics"
	"github.com/nimora/nimora/internal/utils"
	"github.com/nimora/nimora/pkg/aggregator"
	"github.com/nimora/nimora/pkg/browser"
	"github.com/nimora/nimora/pkg/cache"
	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
)

// app wires the aggregator from configuration.
type app struct {
	cfg   config.Config
	cache *cache.Cache
	svc   *aggregator.Service
}

func newApp(ctx context.Context, m *metrics.Collectors) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cache.OpenStore(ctx, cfg.Cache.Backend, cfg.Cache.RedisAddr, cfg.Cache.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not open %s cache: %w", cfg.Cache.Backend, err)
	}
	utils.Log.Debugf("Using %s cache", cfg.Cache.Backend)
	c := cache.New(store, cfg.Cache.TTLs)

	launcher := newLauncher(cfg)
	provider := ecampus.NewProvider(launcher, ecampus.Config{
		BaseURL:           cfg.Ecampus.BaseURL,
		NavigationTimeout: cfg.Scraper.Timeout,
		SelectorTimeout:   cfg.Scraper.SelectorTimeout,
		Log:               utils.Log,
	})
	feedback := ecampus.NewFeedbackAutomator(ecampus.FeedbackOptions{
		Disabled: cfg.Feedback.Disabled,
		Pause:    cfg.Feedback.Pause,
	}, utils.Log)

	svcCfg := aggregator.Config{
		Provider:    provider,
		Cache:       c,
		Feedback:    feedback,
		MaxSessions: cfg.Scraper.MaxSessions,
		Log:         utils.Log,
	}
	if m != nil {
		svcCfg.Metrics = m
	}
	return &app{cfg: cfg, cache: c, svc: aggregator.New(svcCfg)}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		utils.Log.Warnf("Error closing cache: %v", err)
	}
}

// addCredentialFlags registers --rollno and --password. Both fall back to
// NIMORA_STUDENT_ROLLNO and NIMORA_STUDENT_PASSWORD.
func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("rollno", "r", "", "Roll number (env NIMORA_STUDENT_ROLLNO)")
	cmd.Flags().StringP("password", "p", "", "eCampus password (env NIMORA_STUDENT_PASSWORD)")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")
	cmd.Flags().StringP("query", "q", "", "gjson path applied to the JSON output (implies -o json). Example: courses.#.percentage")
	cmd.Flags().Bool("refresh", false, "Ignore cached data and scrape the portal again")
}

func rollNoFromFlags(cmd *cobra.Command) (string, error) {
	rollNo, _ := cmd.Flags().GetString("rollno")
	if rollNo == "" {
		rollNo = viper.GetString("student.rollno")
	}
	rollNo = ecampus.NormalizeRollNo(rollNo)
	if rollNo == "" {
		return "", fmt.Errorf("a roll number is required (--rollno or NIMORA_STUDENT_ROLLNO)")
	}
	return rollNo, nil
}

func credentialsFromFlags(cmd *cobra.Command) (ecampus.Credentials, error) {
	rollNo, err := rollNoFromFlags(cmd)
	if err != nil {
		return ecampus.Credentials{}, err
	}
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = viper.GetString("student.password")
	}
	if password == "" {
		return ecampus.Credentials{}, fmt.Errorf("a password is required (--password or NIMORA_STUDENT_PASSWORD)")
	}
	return ecampus.Credentials{RollNo: rollNo, Password: password}, nil
}

// render prints v as JSON (optionally filtered through a gjson query) or
// hands it to table.
func render(cmd *cobra.Command, v interface{}, cached bool, table func(io.Writer)) error {
	output, _ := cmd.Flags().GetString("output")
	query, _ := cmd.Flags().GetString("query")
	out := cmd.OutOrStdout()

	if cached {
		utils.Log.Debug("Served from cache")
	}
	if query == "" && !strings.EqualFold(output, "json") {
		table(out)
		return nil
	}
	return writeJSON(out, v, query)
}

func writeJSON(w io.Writer, v interface{}, query string) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if query != "" {
		res := gjson.GetBytes(raw, query)
		if !res.Exists() {
			return fmt.Errorf("query %q matched nothing", query)
		}
		if res.Type == gjson.String {
			_, err = fmt.Fprintln(w, res.String())
			return err
		}
		_, err = fmt.Fprintln(w, res.Raw)
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

// runWithApp builds the app for one command and tears it down afterwards.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newLauncher(cfg config.Config) browser.Launcher {
	if cfg.Scraper.Browser == config.BrowserChrome {
		utils.Log.Debug("Driving the portal with Chrome")
		return &browser.ChromeLauncher{
			ExecPath:          cfg.Scraper.ChromePath,
			Headful:           cfg.Scraper.Headful,
			UserAgent:         cfg.Ecampus.UserAgent,
			Proxy:             cfg.Ecampus.Proxy,
			NavigationTimeout: cfg.Scraper.Timeout,
		}
	}
	return &browser.HTTPLauncher{
		UserAgent:         cfg.Ecampus.UserAgent,
		Proxy:             cfg.Ecampus.Proxy,
		RetryMax:          cfg.Scraper.RetryMax,
		NavigationTimeout: cfg.Scraper.Timeout,
	}
}
