package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	return newRootCmdWith(viper.New())
}

func newRootCmdWith(v *viper.Viper) *cobra.Command {
	// Defaults
	v.SetDefault("config", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.mask_sensitive", true)

	// Environment variables support: TASKSERVE_CONFIG, TASKSERVE_SERVER_PORT, ...
	v.SetEnvPrefix("TASKSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "taskserve",
		Short:         "Serve a task module over HTTP for a bounded local session",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("config", v.GetString("config"), "path to a config yaml")
	root.PersistentFlags().String("log-level", v.GetString("logging.level"), "log level (error, warn, info, debug)")
	root.PersistentFlags().String("log-format", v.GetString("logging.format"), "log format (text, json)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(newServeCmd(v))
	return root
}

var version = "dev"

func main() {
	root := newRootCmd()
	root.Version = version
	if err := root.Execute(); err != nil {
		exitHandler.Fatal(err)
	}
}
