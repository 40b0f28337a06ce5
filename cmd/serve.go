package cmd

import (
	"github.com/nimora/nimora/internal/auth"
	"github.com/nimora/nimora/internal/metrics"
	"github.com/nimora/nimora/internal/server"
	"github.com/nimora/nimora/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nimora API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if noAuth, _ := cmd.Flags().GetBool("no-auth"); noAuth {
			viper.Set("auth.required", false)
		}
		m := metrics.New()
		a, err := newApp(ctx, m)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.cfg
		if cfg.Auth.Required && cfg.InsecureSigningKey() {
			if cfg.Production() {
				utils.Log.Fatal("auth.signingkey must be changed before running in production")
			}
			utils.Log.Warn("Using the built-in development signing key")
		}
		if !cfg.Auth.Required {
			utils.Log.Warn("Bearer tokens are disabled: anyone who knows a password can read cached data")
		}

		go a.cache.RunPruner(ctx, cfg.Cache.PruneInterval, utils.Log)

		s := server.New(server.Options{
			Service: a.svc,
			Signer: auth.Signer{
				Key:        cfg.Auth.SigningKey,
				Issuer:     cfg.Auth.Issuer,
				AccessTTL:  cfg.Auth.AccessTTL,
				RefreshTTL: cfg.Auth.RefreshTTL,
			},
			AuthRequired: cfg.Auth.Required,
			RateLimit:    cfg.Server.RateLimit,
			Metrics:      m,
			Log:          utils.Log,
			Release:      cfg.Production(),
			AllowOrigins: cfg.Server.AllowOrigins,
		})
		return s.Run(ctx, cfg.Server.Listen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Bool("no-auth", false, "Serve data endpoints without bearer tokens")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}
