package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"statusboard/internal/app"
	"statusboard/internal/config"
	"statusboard/internal/engine"
	"statusboard/internal/logging"
	"statusboard/internal/server"
	statusboardsdk "statusboard/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "sb",
	Short: "Status board server and client",
	Long: `sb runs a small status board: roles report whether they are idle or working,
the board keeps the shared state document and the last 10 events, and viewers
are told over a server-sent event stream whenever the document changes.

- sb seed     writes the initial state document from the config roster.
- sb serve    serves GET /state, POST /update and GET /stream.
- sb state    prints the board; sb update reports a status; sb watch follows changes.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STATUSBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultFile, "config file")
	flags.String("state", "", "state document path (overrides config)")
	flags.String("backend", "", "state backend: file or sqlite (overrides config)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("server", "http://127.0.0.1:3000", "server URL for client commands")
	flags.String("base-path", "", "API base path (overrides config)")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"config", "state", "backend", "log-level", "log-format", "server", "base-path", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(configCmd())
}

// loadConfig reads the config file (if any) and layers flags and
// STATUSBOARD_* environment variables over it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("backend"); v != "" {
		if cfg.State.Backend != v {
			cfg.State.Path = ""
		}
		cfg.State.Backend = v
	}
	if v := viper.GetString("state"); v != "" {
		cfg.State.Path = v
	}
	if v := viper.GetString("base-path"); v != "" {
		cfg.Server.BasePath = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.SlogAdapter, error) {
	return logging.NewSlogLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			backend, err := app.OpenBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			doc, err := app.RequireSeeded(ctx, backend)
			if err != nil {
				return err
			}
			e := engine.New(backend, logger.With("component", "engine"))
			scfg := server.Config{
				Engine:      e,
				BasePath:    cfg.Server.BasePath,
				CORSOrigins: cfg.Server.CORSOrigins,
				Interval:    cfg.Notifier.Interval,
				KeepAlive:   cfg.Notifier.KeepAlive,
				Logger:      logger.With("component", "http"),
			}
			handler, err := server.New(scfg)
			if err != nil {
				return err
			}
			go func() {
				if err := server.RunWebhooks(ctx, scfg, cfg.Notifier.Webhooks); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("webhook dispatcher stopped", "error", err)
				}
			}()
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: cfg.Server.ReadTimeout,
				ReadTimeout:       cfg.Server.ReadTimeout,
				IdleTimeout:       cfg.Server.IdleTimeout,
				// Open streams end with the serve context.
				BaseContext: func(net.Listener) context.Context { return ctx },
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving status board",
				"addr", cfg.Server.Addr,
				"base_path", cfg.Server.BasePath,
				"backend", cfg.State.Backend,
				"state", cfg.State.Path,
				"roles", len(doc.Roles),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func seedCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the initial state document from the config roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := app.OpenBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			doc, err := app.Seed(cmd.Context(), backend, cfg, force, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(doc)
			}
			fmt.Printf("Seeded %s (%s) with %d roles\n", cfg.State.Path, cfg.State.Backend, len(doc.Roles))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing document")
	return cmd
}

func newClient() (*statusboardsdk.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	c := statusboardsdk.New(viper.GetString("server"))
	c.BasePath = cfg.Server.BasePath
	return c, nil
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			st, err := c.State(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			printState(st)
			return nil
		},
	}
}

func printState(st statusboardsdk.State) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Task", "Progress", "Spent", "Estimated"})
	for _, r := range st.Roles {
		row := table.Row{r.ID, r.Name, r.Status, "", "", "", ""}
		if t := r.CurrentTask; t != nil {
			row[3] = t.Name
			row[4] = formatNumber(t.Progress, "%")
			row[5] = formatNumber(t.SpentMinutes, "m")
			row[6] = formatNumber(t.EstimatedMinutes, "m")
		}
		tw.AppendRow(row)
	}
	tw.Render()

	if len(st.Events) > 0 {
		ev := table.NewWriter()
		ev.SetOutputMirror(os.Stdout)
		ev.AppendHeader(table.Row{"Time", "", "From", "Message"})
		for _, e := range st.Events {
			ev.AppendRow(table.Row{e.Time, e.Type, e.From, e.Message})
		}
		ev.Render()
	}
	fmt.Printf("last update: %s\n", st.Metadata.LastUpdate)
}

func formatNumber(v *float64, unit string) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g%s", *v, unit)
}

func updateCmd() *cobra.Command {
	var (
		u                          statusboardsdk.Update
		progress, spent, estimated float64
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Report a role's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if u.RoleID == "" {
				return fmt.Errorf("--role required")
			}
			flags := cmd.Flags()
			if flags.Changed("progress") {
				u.Progress = &progress
			}
			if flags.Changed("spent") {
				u.SpentTime = &spent
			}
			if flags.Changed("estimated") {
				u.EstimatedTime = &estimated
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Update(cmd.Context(), u); err != nil {
				if statusboardsdk.IsNotFound(err) {
					return fmt.Errorf("role %s not found", u.RoleID)
				}
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]bool{"success": true})
			}
			fmt.Printf("Updated %s -> %s\n", u.RoleID, u.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&u.RoleID, "role", "", "role id")
	cmd.Flags().StringVar(&u.Status, "status", "working", "idle or working")
	cmd.Flags().StringVar(&u.TaskName, "task", "", "task name (working only)")
	cmd.Flags().Float64Var(&progress, "progress", 0, "task progress, 0-100")
	cmd.Flags().Float64Var(&spent, "spent", 0, "minutes spent")
	cmd.Flags().Float64Var(&estimated, "estimated", 0, "minutes estimated")
	cmd.Flags().StringVarP(&u.EventMessage, "message", "m", "", "event log message")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow change notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			stamp := color.New(color.FgHiBlack).SprintFunc()
			changed := color.New(color.FgGreen, color.Bold).SprintFunc()
			err = c.Watch(ctx, func(token string) error {
				st, err := c.State(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "state": st})
				}
				line := fmt.Sprintf("%s %s last update %s", stamp(time.Now().Format("15:04:05")), changed("changed"), st.Metadata.LastUpdate)
				if len(st.Events) > 0 {
					e := st.Events[0]
					line += fmt.Sprintf(" | %s %s %s: %s", e.Time, e.Type, e.From, e.Message)
				}
				fmt.Println(line)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect or create the config file"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists; use --force to overwrite", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	cfgCmd.AddCommand(initCmd, showCmd)
	return cfgCmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
