package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nimora/nimora/internal/config"
	"github.com/nimora/nimora/internal/utils"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `
  _ _  _  _ __ ___  ___  _ _  __ _
 | ' \| || '  \ _ \/ _ \| '_|/ _' |
 |_||_|_||_|_|_\___/\___/|_|  \__,_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nimora",
	Short: "Your PSG eCampus data, without the eCampus.",
	Long: LOGO + `nimora logs into the PSG Tech eCampus portal on your behalf and pulls out
attendance (with how many classes you can skip), CGPA, internal marks, the
exam schedule, and can fill in the feedback forms for you.

Run "nimora serve" to expose the same data over a JSON API.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nimora.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy for portal traffic (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("logformat", "text", "Log format: text or json")
	rootCmd.PersistentFlags().String("browser", "http", "Page driver: http, or chrome to run the portal's scripts")
	viper.BindPFlag("ecampus.proxy", rootCmd.PersistentFlags().Lookup("proxy"))
	viper.BindPFlag("scraper.browser", rootCmd.PersistentFlags().Lookup("browser"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".nimora")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("NIMORA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.nimora.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		} else {
			fmt.Printf("Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
	format, _ := rootCmd.PersistentFlags().GetString("logformat")
	utils.SetLogFormat(format)
	utils.Log.SetOutput(os.Stderr)
}
