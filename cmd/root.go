package cmd

import (
	"os"

	"github.com/endorses/packhound/cmd/cron"
	"github.com/endorses/packhound/cmd/expire"
	"github.com/endorses/packhound/cmd/hunt"
	"github.com/endorses/packhound/cmd/serve"
	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "packhound",
	Short: "packhound is a distributed network-forensics viewer",
	Long:  `packhound indexes, hunts, and prunes captured network sessions across a fleet of cooperating nodes.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSubCommandPalattes() {
	rootCmd.AddCommand(serve.ServeCmd)
	rootCmd.AddCommand(hunt.HuntCmd)
	rootCmd.AddCommand(cron.CronCmd)
	rootCmd.AddCommand(expire.ExpireCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	logger.Initialize()

	addSubCommandPalattes()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.packhound.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".packhound")
	}

	viper.AutomaticEnv()
	viper.ReadInConfig()
}
