package app

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/speechcoach/internal/config"
)

// commandContext はサブコマンド間で共有する設定とログ出力先を保持する。
// 設定は最初に必要になった時点で1回だけ読み込む。
type commandContext struct {
	logOut io.Writer

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = Init(c.logOut)
	})
	return c.config, c.configErr
}

// NewRootCommand はspeechcoachのコマンドツリーを構築する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	ctx := &commandContext{logOut: w}

	root := &cobra.Command{
		Use:           "speechcoach",
		Short:         "Speech coaching session service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsConfig(cmd) {
				return nil
			}
			if _, err := ctx.ensureConfig(); err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx.config)
		},
	}

	root.AddCommand(newServeCommand(ctx))
	root.AddCommand(newWorkerCommand(ctx))
	root.AddCommand(newMigrateCommand(ctx))
	root.AddCommand(newHealthcheckCommand())
	root.AddCommand(newAddUserCommand(ctx))
	root.AddCommand(newTokenCommand(ctx))
	root.AddCommand(newReportCommand(ctx))

	return root
}

// skipsConfig は設定の読み込みが不要なコマンドかを返す。
// healthcheckはdistroless環境で環境変数が揃っていなくても動く必要がある。
func skipsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "healthcheck", "help", "completion":
		return true
	}
	return false
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx.config)
		},
	}
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run background jobs (expired login session cleanup)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), ctx.config)
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(ctx.config)
		},
	}
}

func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the local server's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
		},
	}
}

func newAddUserCommand(ctx *commandContext) *cobra.Command {
	var email, name string
	var twoFactor bool

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(ctx.config, func(c *components) error {
				user, err := c.auth.CreateUser(cmd.Context(), email, name, twoFactor)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), user.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address of the user")
	cmd.Flags().StringVar(&name, "name", "", "Display name of the user")
	cmd.Flags().BoolVar(&twoFactor, "2fa", false, "Require two-factor setup before the user can access sessions")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(ctx.config, func(c *components) error {
				token, expiresAt, err := c.auth.IssueToken(cmd.Context(), args[0], ttl)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to TOKEN_TTL)")
	return cmd
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "report <user-id>",
		Short: "Print analytics and recent sessions for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(ctx.config, func(c *components) error {
				return writeReport(cmd.Context(), cmd.OutOrStdout(), c.analytics, c.speech, args[0], limit)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultReportLimit, "Number of recent sessions to list")
	return cmd
}
