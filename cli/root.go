// Package cli wires configuration, logging, storage and the pipeline into
// the resspec commands.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/resspec/resspec/config"
	"github.com/resspec/resspec/orchestrator"
	"github.com/resspec/resspec/store"
	"github.com/resspec/resspec/watch"
)

var errNoDatabase = errors.New("database.url is not configured")

type app struct {
	cfgPath  string
	logLevel string

	v    *viper.Viper
	conf *config.Root
	log  *logrus.Logger
}

func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

func NewRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}
	root := &cobra.Command{
		Use:          "resspec",
		Short:        "Detect crackles and wheezes in lung sound recordings",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default config/$CONFIG_ENV/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override pipeline.log_level")

	root.AddCommand(
		newAnalyzeCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	v, err := config.New(a.cfgPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		v.Set("pipeline.log_level", a.logLevel)
	}
	conf, err := config.Decode(v)
	if err != nil {
		return err
	}
	a.v, a.conf = v, conf

	a.log.SetOutput(cmd.ErrOrStderr())
	if err := configureLogger(a.log, conf.Pipeline); err != nil {
		return err
	}
	if path := v.ConfigFileUsed(); path != "" {
		a.log.WithField("file", path).Debug("configuration loaded")
	}
	return nil
}

func configureLogger(l *logrus.Logger, p config.Pipeline) error {
	lvl, err := logrus.ParseLevel(p.LogLvl)
	if err != nil {
		return fmt.Errorf("pipeline.log_level: %w", err)
	}
	switch p.LogFormat {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("pipeline.log_format: unknown format %q", p.LogFormat)
	}
	l.SetLevel(lvl)
	return nil
}

// openStore returns nil values when no database is configured.
func (a *app) openStore(ctx context.Context) (*store.Pool, *store.RecordStore, error) {
	if a.conf.Database.URL == "" {
		return nil, nil, nil
	}
	pool, err := store.Connect(ctx, a.conf.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, store.NewRecordStore(pool), nil
}

func (a *app) pipeline(rs *store.RecordStore, n orchestrator.Notifier) *orchestrator.Pipeline {
	opts := []orchestrator.Option{orchestrator.WithLogger(a.log)}
	if rs != nil {
		opts = append(opts, orchestrator.WithStore(rs))
	}
	if n != nil {
		opts = append(opts, orchestrator.WithNotifier(n))
	}
	return orchestrator.NewPipeline(a.conf, opts...)
}

func (a *app) watcher(dir, userID string, an watch.Analyzer) *watch.Watcher {
	return watch.New(watch.Config{
		Dir:        dir,
		Extensions: a.conf.Audio.Extensions,
		Settle:     config.DurSeconds(a.conf.Watch.SettleSeconds),
		UserID:     userID,
	}, an, a.log)
}
