package main

import (
	"context"
	"fmt"
	"io"

	"github.com/hatlonely/cqlx/cfg"
	"github.com/hatlonely/cqlx/cql/migrate"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/hatlonely/cqlx/cql/session"
	"github.com/hatlonely/cqlx/log/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var Version = "0.1.0"

// Config 命令行配置文件
type Config struct {
	// 表声明文件，可被 --declarations 覆盖
	Declarations string                    `cfg:"declarations"`
	Session      session.Options           `cfg:"session"`
	Migrator     migrate.MigratorOptions   `cfg:"migrator"`
	Log          logger.SLogOptions        `cfg:"log"`
	Observable   session.ObservableOptions `cfg:"observable"`
}

// sessionFactory 按配置建立会话，测试中替换为内存实现
type sessionFactory func(ctx context.Context, c *Config, l logger.Logger) (session.Session, error)

func openSession(ctx context.Context, c *Config, l logger.Logger) (session.Session, error) {
	s, err := session.NewSessionWithOptions(&c.Session)
	if err != nil {
		return nil, err
	}
	if !c.Observable.EnableMetrics && !c.Observable.EnableLogging && !c.Observable.EnableTracing {
		return s, nil
	}
	obs, err := session.NewObservableSessionWithOptions(s, &c.Observable, session.WithLogger(l.WithGroup("session")))
	if err != nil {
		s.Close()
		return nil, err
	}
	return obs, nil
}

type rootFlags struct {
	config       string
	declarations string
	keyspace     string
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(openSession)
}

func newRootCmd(open sessionFactory) *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "cqlx",
		Short: "cqlx - schema synchronizer for CQL stores",
		Long: `cqlx compares declared table models with the live system_schema of a
cluster and prints or applies the additive statements that converge them.

Changes that cannot be made additively are reported and never executed.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "cqlx.yaml", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVarP(&flags.declarations, "declarations", "d", "", "table declarations file, overrides the config")
	rootCmd.PersistentFlags().StringVarP(&flags.keyspace, "keyspace", "k", "", "keyspace for tables that declare none")

	rootCmd.AddCommand(newPlanCmd(flags, open))
	rootCmd.AddCommand(newSyncCmd(flags, open))
	return rootCmd
}

func newPlanCmd(flags *rootFlags, open sessionFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the statements needed to converge the live schema",
		Example: `  # Show pending changes
  cqlx plan -c cqlx.yaml -d schema.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := prepare(cmd.Context(), flags, open, nil)
			if err != nil {
				return err
			}
			defer env.close()

			diff, err := env.migrator.Plan(cmd.Context(), env.schemas...)
			if err != nil {
				return err
			}
			printDiff(cmd.OutOrStdout(), diff)
			return nil
		},
	}
}

func newSyncCmd(flags *rootFlags, open sessionFactory) *cobra.Command {
	var dryRun, failOnDestructive bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply the additive statements in order",
		Example: `  # Apply pending changes, refusing to run when manual changes are needed
  cqlx sync -c cqlx.yaml --fail-on-destructive`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := prepare(cmd.Context(), flags, open, func(o *migrate.MigratorOptions) {
				if cmd.Flags().Changed("dry-run") {
					o.DryRun = dryRun
				}
				if cmd.Flags().Changed("fail-on-destructive") {
					o.FailOnDestructive = failOnDestructive
				}
			})
			if err != nil {
				return err
			}
			defer env.close()

			diff, err := env.migrator.Sync(cmd.Context(), env.schemas...)
			if diff != nil {
				printDiff(cmd.OutOrStdout(), diff)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print statements without executing them")
	cmd.Flags().BoolVar(&failOnDestructive, "fail-on-destructive", false, "fail without executing when manual changes are needed")
	return cmd
}

type environment struct {
	schemas  []*schema.Schema
	migrator *migrate.Migrator
	session  session.Session
	logger   *logger.SLog
}

func (e *environment) close() {
	e.session.Close()
	_ = e.logger.Close()
}

// prepare 读取配置与声明，建立会话和迁移器
func prepare(ctx context.Context, flags *rootFlags, open sessionFactory, override func(*migrate.MigratorOptions)) (*environment, error) {
	var c Config
	if err := cfg.Load(flags.config, &c); err != nil {
		return nil, err
	}
	if flags.declarations != "" {
		c.Declarations = flags.declarations
	}
	if flags.keyspace != "" {
		c.Migrator.Keyspace = flags.keyspace
	}
	if c.Declarations == "" {
		return nil, errors.New("no declarations file given, set declarations in the config or pass --declarations")
	}
	if override != nil {
		override(&c.Migrator)
	}

	schemas, err := schema.LoadDeclarations(c.Declarations)
	if err != nil {
		return nil, err
	}

	l, err := logger.NewSLogWithOptions(&c.Log)
	if err != nil {
		return nil, errors.Wrap(err, "create logger failed")
	}

	s, err := open(ctx, &c, l)
	if err != nil {
		_ = l.Close()
		return nil, errors.WithMessage(err, "open session failed")
	}
	m, err := migrate.NewMigratorWithOptions(s, &c.Migrator, migrate.WithLogger(l.WithGroup("migrator")))
	if err != nil {
		s.Close()
		_ = l.Close()
		return nil, err
	}
	return &environment{schemas: schemas, migrator: m, session: s, logger: l}, nil
}

// printDiff 输出可执行的语句，需要人工处理的差异以注释形式输出
func printDiff(w io.Writer, diff *migrate.SchemaDiff) {
	for _, stmt := range diff.Statements() {
		fmt.Fprintf(w, "%s;\n", stmt.CQL)
	}
	for _, d := range diff.Diagnostics {
		fmt.Fprintf(w, "-- %s\n", d)
	}
	if diff.Empty() && len(diff.Diagnostics) == 0 {
		fmt.Fprintln(w, "-- schema is up to date")
	}
}
