package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	relay "github.com/cryptagon/meetmesh/pkg"
	"github.com/cryptagon/meetmesh/pkg/logger"
)

var (
	// Used for flags.
	cfgFile string
	conf    = relay.RootConfig{}

	log = logger.GetLogger().WithName("cmd")

	rootCmd = &cobra.Command{
		Use:   "meetmesh",
		Short: "meetmesh is a peer-to-peer sync engine for collaborative meeting notes",
		Long:  `A signaling relay and mesh sync engine for sharing meeting notes between peers`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.meetmesh.toml)")
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("toml")
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			log.Error(err, "error finding home directory")
			os.Exit(1)
		}

		// Search config in home directory with name ".meetmesh" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".meetmesh")
	}
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	if err := viper.GetViper().Unmarshal(&conf); err != nil {
		log.Error(err, "error loading config file", "file", cfgFile)
		os.Exit(1)
	}
}
