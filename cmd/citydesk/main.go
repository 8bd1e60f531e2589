package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"citydesk/internal/app"
	"citydesk/internal/auth"
	"citydesk/internal/config"
	"citydesk/internal/logger"
	"citydesk/internal/models"
	"citydesk/internal/repository"
	"citydesk/pkg/client"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "citydesk",
	Short: "Smart city service desk",
	Long: `citydesk serves the city portal API: resident issue reports, department tasks,
provider bids and the allocations created from approved bids.

The server reads its settings from the environment (SERVER_ADDRESS, STORAGE,
POSTGRES_CONN, JWT_SECRET, ...). Client commands read CITYDESK_* variables or flags.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CITYDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "API base URL for client commands")
	rootCmd.PersistentFlags().String("token", "", "bearer token for client commands")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(watchCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			if len(addr) > 0 {
				cfg.ServerAddress = addr
			}

			a, err := app.NewApp(app.WithConfig(cfg))
			if err != nil {
				return err
			}
			a.Run()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SERVER_ADDRESS)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Apply or revert database migrations"}

	run := func(down bool) error {
		cfg, err := config.NewConfig()
		if err != nil {
			return err
		}
		pg := cfg.PostgresConfig
		pg.AutoMigrateUp = false
		pg.AutoMigrateDown = false

		log := logger.New(cfg.Env, cfg.LogLevel, cfg.LogFormat, os.Stderr)
		repo, err := repository.NewRepository(nil, &pg, log)
		if err != nil {
			return err
		}
		defer repo.Close()

		if down {
			return repo.MigrateDown()
		}
		return repo.MigrateUp()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  func(cmd *cobra.Command, args []string) error { return run(false) },
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert all migrations, dropping every table",
		RunE:  func(cmd *cobra.Command, args []string) error { return run(true) },
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var role, department, name, subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if len(secret) == 0 {
				secret = os.Getenv("JWT_SECRET")
			}
			if len(secret) == 0 {
				return fmt.Errorf("JWT_SECRET or --jwt-secret is required")
			}

			r, ok := models.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q, should be one of: %s, %s, %s", role, models.RoleResident, models.RoleProvider, models.RoleAuthority)
			}
			if len(subject) == 0 {
				subject = uuid.NewString()
			}

			cfg, err := config.NewConfig()
			if err != nil {
				return err
			}
			departments := models.NewDepartments(cfg.Departments...)
			a := auth.New(secret, departments, nil)

			dept := models.Department(department)
			if parsed, ok := departments.Parse(department); ok {
				dept = parsed
			}
			token, err := a.Sign(models.Actor{Subject: subject, Role: r, Department: dept, Name: name}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "resident, provider or authority")
	cmd.Flags().StringVar(&department, "department", "", "department of an authority account")
	cmd.Flags().StringVar(&name, "name", "", "provider name")
	cmd.Flags().StringVar(&subject, "subject", "", "subject claim (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	cmd.Flags().String("jwt-secret", "", "signing secret (defaults to JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the API and print a department dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(viper.GetString("server"), viper.GetString("token"))
			dept := models.Department(viper.GetString("department"))
			log := logger.New("prod", "warn", "text", os.Stderr)

			p := client.NewPoller(c,
				client.ForDepartment(dept),
				client.WithInterval(viper.GetDuration("interval")),
				client.WithLogger(log),
				client.OnUpdate(printSnapshot),
			)

			if viper.GetBool("once") {
				return p.Refresh(cmd.Context())
			}
			p.Run(cmd.Context())
			return nil
		},
	}
	cmd.Flags().String("department", "", "department to watch (all when empty)")
	cmd.Flags().Duration("interval", client.DefaultPollInterval, "poll interval")
	cmd.Flags().Bool("once", false, "poll once and exit")
	_ = viper.BindPFlag("department", cmd.Flags().Lookup("department"))
	_ = viper.BindPFlag("interval", cmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("once", cmd.Flags().Lookup("once"))
	return cmd
}

func printSnapshot(s client.Snapshot) {
	if viper.GetBool("json") {
		_ = printJSON(s)
		return
	}

	title := "all departments"
	if len(s.Department) > 0 {
		title = string(s.Department)
	}
	fmt.Printf("\n== %s at %s ==\n", title, s.FetchedAt.Format(time.TimeOnly))

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Tasks")
	tw.AppendHeader(table.Row{"ID", "Department", "Status", "Timeline", "Description"})
	for _, t := range s.Tasks {
		tw.AppendRow(table.Row{t.Id, t.Department, t.Status, t.Timeline, shorten(t.Description, 40)})
	}
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Open issues")
	tw.AppendHeader(table.Row{"ID", "Department", "Location", "Description"})
	for _, i := range s.Issues {
		if i.Status != models.IssueOpen {
			continue
		}
		tw.AppendRow(table.Row{i.Id, i.Department, i.Location, shorten(i.Description, 40)})
	}
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Bids")
	tw.AppendHeader(table.Row{"ID", "Task", "Provider", "Amount", "Status"})
	for _, b := range s.Bids {
		tw.AppendRow(table.Row{b.Id, b.TaskId, b.ProviderName, fmt.Sprintf("%.2f", float64(b.Amount)), b.Status})
	}
	tw.Render()

	tw = table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Allocations")
	tw.AppendHeader(table.Row{"ID", "Provider", "Task", "Status", "Notes"})
	for _, a := range s.Allocations {
		tw.AppendRow(table.Row{a.Id, a.ProviderName, shorten(a.TaskDescription, 30), a.Status, shorten(a.Notes, 30)})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
