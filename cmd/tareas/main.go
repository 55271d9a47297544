package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"tareas/internal/app"
	"tareas/internal/config"
	"tareas/internal/domain"
	"tareas/internal/engine"
	"tareas/internal/engine/auth"
	"tareas/internal/report"
	"tareas/internal/repo"
	"tareas/internal/scope"
	"tareas/internal/server"
	"tareas/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "tareas",
	Short: "Work-order client",
	Long: `tareas talks to the work-order backend on behalf of a logged-in user.
- Session: 'tareas login' stores the access and refresh credentials in the workspace (.tareas/tareas.db); 'tareas logout' forgets them.
- Visibility: the backend decides which tasks you see; operators see their own, administrators their company or site.
- Tasks: created open (INICIADA) with a start photo, closed (FINALIZADA) with an end photo.
- Dashboard and report: administrators only.
- Event log: local diary of logins and task changes, view with 'tareas log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", userMessage(err))
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TAREAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("api-url", "", "backend base url (overrides tareas.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides tareas.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// userMessage renders errors the way the views do: a Spanish inline message,
// with the field when the input was rejected.
func userMessage(err error) string {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		if ve.Field != "" {
			return fmt.Sprintf("%s (%s)", ve.Message, ve.Field)
		}
		return ve.Message
	case errors.Is(err, scope.ErrLocked), errors.Is(err, scope.ErrOutOfScope), errors.Is(err, session.ErrInvalidLogin):
		return err.Error()
	}
	switch engine.Classify(err) {
	case engine.KindUnauthenticated:
		return "Debes iniciar sesión: tareas login"
	case engine.KindUnauthorized, engine.KindValidation:
		return engine.Message(err)
	}
	return engine.Message(err) + " (" + err.Error() + ")"
}

func loginCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if username == "" {
					u, err := prompt("Usuario: ")
					if err != nil {
						return err
					}
					username = u
				}
				password, err := readPassword("Contraseña: ")
				if err != nil {
					return err
				}
				if err := ws.Session.Login(ctx, ws.Anonymous(), strings.TrimSpace(username), password); err != nil {
					return err
				}
				me, err := ws.Require(ctx, false, "session")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(me)
				}
				fmt.Printf("Bienvenido, %s (%s)\n", me.DisplayName(), me.Username)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Session.Clear(ctx); err != nil {
					return err
				}
				fmt.Println("Sesión cerrada.")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user and role scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				me, err := ws.Require(ctx, false, "session")
				if err != nil {
					return err
				}
				var expires string
				if claims, err := ws.Session.Claims(ctx); err == nil && claims.ExpiresAt != nil {
					expires = claims.ExpiresAt.Time.Local().Format("2006-01-02 15:04")
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"user":    me,
						"scope":   auth.ScopeOf(me).String(),
						"admin":   auth.IsAdmin(me),
						"expires": expires,
					})
				}
				tw := newTable()
				tw.AppendRow(table.Row{"Usuario", me.Username})
				tw.AppendRow(table.Row{"Nombre", me.DisplayName()})
				tw.AppendRow(table.Row{"Alcance", auth.ScopeOf(me).String()})
				if me.Profile != nil && me.Profile.Company != nil {
					tw.AppendRow(table.Row{"Empresa", me.Profile.Company.Name})
				}
				if me.Profile != nil && me.Profile.Site != nil {
					tw.AppendRow(table.Row{"Faena", me.Profile.Site.Name})
				}
				if expires != "" {
					tw.AppendRow(table.Row{"Token expira", expires})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func authCmd() *cobra.Command {
	a := &cobra.Command{Use: "auth", Short: "Session credentials"}
	a.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Session.Refresh(ctx, ws.Anonymous()); err != nil {
					if errors.Is(err, session.ErrNoCredentials) {
						return engine.ErrUnauthenticated
					}
					return err
				}
				fmt.Println("Token renovado.")
				return nil
			})
		},
	})
	return a
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "tasks", Aliases: []string{"tareas"}, Short: "Work orders"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskCloseCmd())
	t.AddCommand(taskEditCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var estado, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := engine.ParseStateFilter(estado)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if _, err := ws.Require(ctx, false, "task.list"); err != nil {
					return err
				}
				tasks, err := ws.Engine().ListTasks(ctx)
				if err != nil {
					return err
				}
				tasks = engine.FilterTasks(tasks, filter, search)
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&estado, "estado", "all", "state filter: all, open, closed")
	cmd.Flags().StringVarP(&search, "query", "q", "", "match description, operator username or id")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if _, err := ws.Require(ctx, false, "task.view"); err != nil {
					return err
				}
				t, err := ws.Engine().GetTask(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				printTaskDetail(t, ws.Client().MediaURL)
				return nil
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var desc, foto string
	var sel scope.Selection
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task with its start photo",
		Long: `Create an open task. Company, site and operator default to the ones your role
fixes; locked values cannot be changed. The photo is a local path or s3://bucket/key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if _, err := ws.Require(ctx, false, "task.create"); err != nil {
					return err
				}
				resolver := ws.Scope()
				form, err := resolver.Load(ctx)
				if err != nil {
					return err
				}
				if err := resolver.Apply(ctx, form, sel); err != nil {
					return err
				}
				t, err := ws.Engine().CreateTask(ctx, form.CreateOptions(desc, foto))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Tarea #%d creada %s\n", t.ID, stateBadge(t.State))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&desc, "descripcion", "d", "", "description")
	cmd.Flags().StringVar(&foto, "foto", "", "start photo (path or s3://bucket/key)")
	cmd.Flags().IntVar(&sel.CompanyID, "empresa", 0, "company id")
	cmd.Flags().IntVar(&sel.SiteID, "faena", 0, "site id")
	cmd.Flags().IntVar(&sel.LocationID, "ubicacion", 0, "location id")
	cmd.Flags().IntVar(&sel.OperatorID, "operador", 0, "operator user id")
	cmd.Flags().IntSliceVar(&sel.ParticipantIDs, "personas", nil, "participant user ids")
	cmd.Flags().IntSliceVar(&sel.VehicleIDs, "vehiculos", nil, "vehicle ids")
	cmd.Flags().IntSliceVar(&sel.ToolIDs, "herramientas", nil, "tool ids")
	return cmd
}

func taskCloseCmd() *cobra.Command {
	var foto, notes string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close an open task with its end photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				me, err := ws.Require(ctx, false, "task.close")
				if err != nil {
					return err
				}
				e := ws.Engine()
				t, err := e.GetTask(ctx, id)
				if err != nil {
					return err
				}
				t, err = e.CloseTask(ctx, t, engine.CloseOptions{EndPhoto: foto, Notes: notes, Actor: me.Username})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Tarea #%d %s en %s\n", t.ID, stateBadge(t.State), engine.DurationLabel(t))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&foto, "foto", "", "end photo (path or s3://bucket/key)")
	cmd.Flags().StringVar(&notes, "observaciones", "", "closing notes")
	return cmd
}

func taskEditCmd() *cobra.Command {
	var desc, notes, estado string
	var opts engine.EditOptions
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a task (administrators)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			if cmd.Flags().Changed("descripcion") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("observaciones") {
				opts.Notes = &notes
			}
			opts.State = domain.TaskState(strings.ToUpper(estado))
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				me, err := ws.Require(ctx, true, "task.edit")
				if err != nil {
					return err
				}
				e := ws.Engine()
				t, err := e.GetTask(ctx, id)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("operador") && t.Operator != nil {
					opts.OperatorID = t.Operator.ID
				}
				t, err = e.EditTask(ctx, me, t, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				printTaskDetail(t, ws.Client().MediaURL)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&desc, "descripcion", "d", "", "description")
	cmd.Flags().StringVar(&notes, "observaciones", "", "notes")
	cmd.Flags().StringVar(&estado, "estado", "", "INICIADA reopens the task")
	cmd.Flags().IntVar(&opts.OperatorID, "operador", 0, "operator user id (defaults to the current one)")
	cmd.Flags().IntSliceVar(&opts.ParticipantIDs, "personas", nil, "participant user ids")
	cmd.Flags().IntSliceVar(&opts.VehicleIDs, "vehiculos", nil, "vehicle ids")
	cmd.Flags().IntSliceVar(&opts.ToolIDs, "herramientas", nil, "tool ids")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var estado, search string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Task metrics (administrators)",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := engine.ParseStateFilter(estado)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				me, err := ws.Require(ctx, true, "dashboard.view")
				if err != nil {
					return err
				}
				tasks, err := ws.Engine().ListTasks(ctx)
				if err != nil {
					return err
				}
				metrics := engine.ComputeMetrics(tasks)
				breakdown := engine.OperatorBreakdown(tasks)
				filtered := engine.FilterTasks(tasks, filter, search)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"metricas":     metrics,
						"por_operador": breakdown,
						"tareas":       filtered,
					})
				}
				fmt.Printf("Bienvenido, %s (%s)\n\n", me.DisplayName(), me.Username)
				tw := newTable()
				tw.AppendHeader(table.Row{"Total", "Iniciadas", "Finalizadas", "Promedio"})
				tw.AppendRow(table.Row{metrics.Total, metrics.Open, metrics.Closed, metrics.AvgLabel()})
				tw.Render()
				if len(breakdown) > 0 {
					bw := newTable()
					bw.AppendHeader(table.Row{"Operador", "Iniciadas", "Finalizadas"})
					for _, b := range breakdown {
						bw.AppendRow(table.Row{b.Operator, b.Open, b.Closed})
					}
					bw.Render()
				}
				printTasks(filtered)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&estado, "estado", "all", "state filter: all, open, closed")
	cmd.Flags().StringVarP(&search, "query", "q", "", "match description, operator username or id")
	return cmd
}

func formCmd() *cobra.Command {
	var sel scope.Selection
	cmd := &cobra.Command{
		Use:   "form",
		Short: "Show the values you may pick for a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if _, err := ws.Require(ctx, false, "task.create"); err != nil {
					return err
				}
				resolver := ws.Scope()
				form, err := resolver.Load(ctx)
				if err != nil {
					return err
				}
				if sel.CompanyID != 0 || sel.SiteID != 0 {
					if err := resolver.Apply(ctx, form, sel); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(form)
				}
				printForm(form)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&sel.CompanyID, "empresa", 0, "company id")
	cmd.Flags().IntVar(&sel.SiteID, "faena", 0, "site id")
	return cmd
}

func reportCmd() *cobra.Command {
	var outDir, title, filename string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the dashboard as a PDF (administrators)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				me, err := ws.Require(ctx, true, "report.generate")
				if err != nil {
					return err
				}
				tasks, err := ws.Engine().ListTasks(ctx)
				if err != nil {
					return err
				}
				if outDir == "" {
					outDir = ws.Config.Report.OutputDir
				}
				if title == "" {
					title = ws.Config.Report.Title
				}
				var gen report.Generator = report.NewDashboardGenerator(outDir, title)
				path, err := gen.Generate(report.DashboardData{
					User:        me,
					Tasks:       tasks,
					Metrics:     engine.ComputeMetrics(tasks),
					Breakdown:   engine.OperatorBreakdown(tasks),
					GeneratedAt: time.Now(),
					Filename:    filename,
				})
				if err != nil {
					return err
				}
				ws.Logger.WithField("path", path).Info("report written")
				fmt.Println(path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "output directory (default report.output_dir)")
	cmd.Flags().StringVar(&title, "title", "", "report title")
	cmd.Flags().StringVar(&filename, "file", "", "file name (default tareas_<timestamp>.pdf)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Local event log",
		Long:  "The diary of what this workspace did: logins, logouts and task changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				evts, err := ws.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range evts {
					entity := e.EntityKind
					if e.EntityID != "" {
						entity += " #" + e.EntityID
					}
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.Actor})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tareas.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if viper.GetBool("json") {
					return printJSON(ws.Config)
				}
				out, err := yaml.Marshal(ws.Config)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate tareas.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP view API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if addr == "" {
					addr = ws.Config.Server.Addr
				}
				if basePath == "" {
					basePath = ws.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					BackendURL: ws.Config.API.BaseURL,
					Timeout:    ws.Config.Timeout(),
					Session:    ws.Session,
					Photos:     ws.Photos(),
					Repo:       ws.Repo,
					BasePath:   basePath,
					Logger:     ws.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Tareas API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := app.Open(viper.GetString("workspace"), app.Overrides{
		APIURL:   viper.GetString("api-url"),
		LogLevel: viper.GetString("log-level"),
	})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo on a terminal and a plain line otherwise,
// so the password can be piped in scripts.
func readPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

var (
	openBadge   = color.New(color.FgYellow, color.Bold)
	closedBadge = color.New(color.FgGreen, color.Bold)
)

func stateBadge(s domain.TaskState) string {
	switch s {
	case domain.StateOpen:
		return openBadge.Sprint(string(s))
	case domain.StateClosed:
		return closedBadge.Sprint(string(s))
	}
	return string(s)
}

func printTasks(tasks []domain.Task) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Descripción", "Estado", "Operador", "Faena", "Inicio", "Duración"})
	for _, t := range tasks {
		site := ""
		if t.Site != nil {
			site = t.Site.Name
		}
		tw.AppendRow(table.Row{t.ID, t.Description, stateBadge(t.State), t.OperatorKey(), site,
			t.StartedAt.Local().Format("2006-01-02 15:04"), engine.DurationLabel(t)})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d tareas", len(tasks))})
	tw.Render()
}

func printTaskDetail(t domain.Task, media func(string) string) {
	tw := newTable()
	tw.AppendRow(table.Row{"ID", t.ID})
	tw.AppendRow(table.Row{"Descripción", t.Description})
	tw.AppendRow(table.Row{"Estado", stateBadge(t.State)})
	tw.AppendRow(table.Row{"Inicio", t.StartedAt.Local().Format("2006-01-02 15:04")})
	if t.ClosedAt != nil {
		tw.AppendRow(table.Row{"Término", t.ClosedAt.Local().Format("2006-01-02 15:04")})
	}
	tw.AppendRow(table.Row{"Duración", engine.DurationLabel(t)})
	if t.Company != nil {
		tw.AppendRow(table.Row{"Empresa", t.Company.Name})
	}
	if t.Site != nil {
		tw.AppendRow(table.Row{"Faena", t.Site.Name})
	}
	if t.Location != nil {
		tw.AppendRow(table.Row{"Ubicación", t.Location.Name})
	}
	if t.Operator != nil {
		tw.AppendRow(table.Row{"Operador", t.Operator.DisplayName()})
	}
	var names []string
	for _, p := range t.Participants {
		names = append(names, p.DisplayName())
	}
	tw.AppendRow(table.Row{"Personas", strings.Join(names, ", ")})
	names = names[:0]
	for _, v := range t.Vehicles {
		names = append(names, v.Label())
	}
	tw.AppendRow(table.Row{"Vehículos", strings.Join(names, ", ")})
	names = names[:0]
	for _, tool := range t.Tools {
		names = append(names, tool.Name)
	}
	tw.AppendRow(table.Row{"Herramientas", strings.Join(names, ", ")})
	if t.StartPhoto != "" {
		tw.AppendRow(table.Row{"Foto inicio", media(t.StartPhoto)})
	}
	if t.EndPhoto != "" {
		tw.AppendRow(table.Row{"Foto término", media(t.EndPhoto)})
	}
	if t.Notes != "" {
		tw.AppendRow(table.Row{"Observaciones", t.Notes})
	}
	tw.Render()
}

func lockMark(locked bool) string {
	if locked {
		return " (fijo)"
	}
	return ""
}

func printForm(f *scope.Form) {
	fmt.Printf("Alcance: %s\n", f.Scope)
	tw := newTable()
	tw.AppendHeader(table.Row{"Campo", "ID", "Nombre"})
	for _, c := range f.CompanyOptions() {
		tw.AppendRow(table.Row{"Empresa" + lockMark(f.CompanyLocked()), c.ID, c.Name})
	}
	for _, s := range f.SiteOptions() {
		tw.AppendRow(table.Row{"Faena" + lockMark(f.SiteLocked()), s.ID, s.Name})
	}
	for _, l := range f.LocationOptions() {
		tw.AppendRow(table.Row{"Ubicación", l.ID, l.Name})
	}
	for _, u := range f.Operators {
		tw.AppendRow(table.Row{"Operador" + lockMark(f.OperatorLocked()), u.ID, u.DisplayName()})
	}
	for _, v := range f.Vehicles {
		tw.AppendRow(table.Row{"Vehículo", v.ID, v.Label()})
	}
	for _, t := range f.Tools {
		tw.AppendRow(table.Row{"Herramienta", t.ID, t.Name})
	}
	tw.Render()
}
