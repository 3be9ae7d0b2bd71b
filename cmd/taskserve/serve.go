package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/constants"
	"github.com/loykin/taskserve/internal/engine"
	"github.com/loykin/taskserve/internal/execconfig"
	"github.com/loykin/taskserve/internal/kv"
	"github.com/loykin/taskserve/internal/launcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	v.SetDefault("server.port", constants.DefaultPort)
	v.SetDefault("server.hostname", constants.DefaultHostname)
	v.SetDefault("server.session_timeout", constants.DefaultSessionTimeout)
	v.SetDefault("server.shutdown_grace", constants.DefaultShutdownGrace)
	v.SetDefault("execution.parse_body", false)
	v.SetDefault("execution.merge_body", false)
	v.SetDefault("execution.storage_file", "")
	v.SetDefault("execution.secrets_file", "")

	cmd := &cobra.Command{
		Use:   "serve <task-file>",
		Short: "Serve a task module locally until the session timeout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, _ := cmd.Flags().GetStringArray("secret")
			params, _ := cmd.Flags().GetStringArray("param")
			return runServe(cmd.Context(), v, args[0], secrets, params)
		},
	}

	f := cmd.Flags()
	f.IntP("port", "p", v.GetInt("server.port"), "port to listen on (0 picks a free port)")
	f.String("hostname", v.GetString("server.hostname"), "hostname to listen on")
	f.Duration("session-timeout", v.GetDuration("server.session_timeout"), "shut the server down after this long")
	f.Duration("shutdown-grace", v.GetDuration("server.shutdown_grace"), "how long shutdown may take before giving up")
	f.StringArrayP("secret", "s", nil, "secret exposed to the task as KEY=VALUE (repeatable)")
	f.StringArray("param", nil, "param exposed to the task as KEY=VALUE (repeatable)")
	f.String("secrets-file", v.GetString("execution.secrets_file"), "dotenv file with additional secrets")
	f.Bool("parse-body", v.GetBool("execution.parse_body"), "parse JSON and form request bodies")
	f.Bool("merge-body", v.GetBool("execution.merge_body"), "merge parsed body fields into the task data")
	f.String("storage-file", v.GetString("execution.storage_file"), "SQLite file or postgres:// URL persisting task storage")

	_ = v.BindPFlag("server.port", f.Lookup("port"))
	_ = v.BindPFlag("server.hostname", f.Lookup("hostname"))
	_ = v.BindPFlag("server.session_timeout", f.Lookup("session-timeout"))
	_ = v.BindPFlag("server.shutdown_grace", f.Lookup("shutdown-grace"))
	_ = v.BindPFlag("execution.secrets_file", f.Lookup("secrets-file"))
	_ = v.BindPFlag("execution.parse_body", f.Lookup("parse-body"))
	_ = v.BindPFlag("execution.merge_body", f.Lookup("merge-body"))
	_ = v.BindPFlag("execution.storage_file", f.Lookup("storage-file"))
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper, taskFile string, secretArgs, paramArgs []string) error {
	doc, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := doc.SetupLogging()
	if err != nil {
		return err
	}

	secrets, params, err := collectValues(doc.Execution, secretArgs, paramArgs)
	if err != nil {
		return err
	}
	common.GetGlobalMasker().AddSecretValues(secrets.Values()...)

	cfg := execconfig.Build(execconfig.Options{
		ParseBody:   doc.Execution.ParseBody,
		MergeBody:   doc.Execution.MergeBody,
		Secrets:     secrets,
		Params:      params,
		StorageFile: doc.Execution.StorageFile,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := launcher.New(launcher.FromEngine(engine.NewEngine(logger)), launcher.WithLogger(logger))
	outcome, err := l.Run(ctx, launcher.RunOptions{
		ModulePath:     taskFile,
		Host:           doc.Server.Hostname,
		Port:           doc.Server.Port,
		Config:         cfg,
		SessionCeiling: doc.Server.SessionTimeout,
		ShutdownGrace:  doc.Server.ShutdownGrace,
	})
	if err != nil {
		return err
	}
	logger.Info("session ended", "outcome", outcome.String())
	return nil
}

// collectValues layers the config file's lists, the secrets file and the
// flags, later sources winning.
func collectValues(ex ExecutionConfig, secretArgs, paramArgs []string) (kv.Map, kv.Map, error) {
	var fromFile kv.Map
	if ex.SecretsFile != "" {
		m, err := kv.LoadFile(ex.SecretsFile)
		if err != nil {
			return nil, nil, err
		}
		fromFile = m
	}
	secrets := kv.Merge(ex.Secrets, fromFile, kv.Normalize(secretArgs))
	params := kv.Merge(ex.Params, kv.Normalize(paramArgs))
	return secrets, params, nil
}
