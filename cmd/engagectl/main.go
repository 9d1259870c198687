package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/civicpulse/sessionkit/config"
	"github.com/civicpulse/sessionkit/internal/bootstrap"
	domainauth "github.com/civicpulse/sessionkit/internal/domain/auth"
	apperrors "github.com/civicpulse/sessionkit/internal/errors"
	"golang.org/x/term"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Stdin  io.Reader
	Stdout io.Writer
}

func main() {
	logger := bootstrap.InitLogger(os.Stderr, false)

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	if err = bootstrap.ValidateConfig(&cfg); err != nil {
		logger.ErrorContext(context.Background(), "invalid config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration errors to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		if msg := userMessage(runErr); msg != "" {
			_ = writef(os.Stderr, "%s\n", msg)
		}
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"login": {
			name:        "login",
			description: "Sign in with email and password",
			run:         runLogin,
		},
		"signup": {
			name:        "signup",
			description: "Create an account",
			run:         runSignup,
		},
		"logout": {
			name:        "logout",
			description: "Sign out and forget the stored session",
			run:         runLogout,
		},
		"whoami": {
			name:        "whoami",
			description: "Print the current session and profile",
			run:         runWhoami,
		},
		"refresh": {
			name:        "refresh",
			description: "Re-read the user and refetch the backend profile",
			run:         runRefresh,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: engagectl <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-10s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return writef(w, "\nSessions survive between invocations only with SESSION_PERSIST=redis.\n")
}

type credentialOptions struct {
	Email    string
	Password string
	FullName string
	Username string
}

type outputOptions struct {
	JSON bool
}

func parseCredentialFlags(name string, args []string, stdin io.Reader, signup bool) (credentialOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts credentialOptions
	fs.StringVar(&opts.Email, "email", "", "Account email (required)")
	fs.StringVar(&opts.Password, "password", "", "Password; read from stdin when omitted")
	if signup {
		fs.StringVar(&opts.FullName, "full-name", "", "Display name stored with the account")
		fs.StringVar(&opts.Username, "username", "", "Username stored with the account")
	}

	if err := fs.Parse(args); err != nil {
		return credentialOptions{}, err
	}

	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Email == "" {
		return credentialOptions{}, errors.New("--email is required")
	}
	if opts.Password == "" {
		pw, err := readPassword(stdin)
		if err != nil {
			return credentialOptions{}, fmt.Errorf("read password from stdin: %w", err)
		}
		opts.Password = pw
	}
	return opts, nil
}

func parseOutputFlags(name string, args []string) (outputOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts outputOptions
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return outputOptions{}, err
	}
	return opts, nil
}

// readPassword reads without echo when stdin is a terminal, otherwise one line.
func readPassword(r io.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if err := writef(os.Stderr, "Password: "); err != nil {
			return "", err
		}
		pw, err := term.ReadPassword(int(f.Fd()))
		_ = writef(os.Stderr, "\n")
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	return readLine(r)
}

func readLine(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("no input")
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// withApp wires the session client, waits for the loading phase to end and
// runs fn. The app is always closed afterwards.
func withApp(ctx *commandContext, fn func(app *bootstrap.App) error) error {
	cfg := ctx.Config
	app, err := bootstrap.NewApp(bootstrap.AppOptions{
		Config:    &cfg,
		Logger:    ctx.Logger,
		Navigator: &cliNavigator{out: ctx.Stdout},
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			ctx.Logger.ErrorContext(ctx.Ctx, "close app failed", "error", cerr)
		}
	}()

	if err := app.Start(ctx.Ctx); err != nil {
		return err
	}
	if _, err := app.Sessions.WaitReady(ctx.Ctx); err != nil {
		return err
	}
	return fn(app)
}

func runLogin(ctx *commandContext, args []string) error {
	opts, err := parseCredentialFlags("login", args, ctx.Stdin, false)
	if err != nil {
		return err
	}
	return withApp(ctx, func(app *bootstrap.App) error {
		sess, err := app.Auth.SignIn(ctx.Ctx, opts.Email, opts.Password)
		if err != nil {
			return err
		}
		return writef(ctx.Stdout, "Signed in as %s (session expires %s)\n",
			sess.User.Email, formatTime(sess.ExpiresAt))
	})
}

func runSignup(ctx *commandContext, args []string) error {
	opts, err := parseCredentialFlags("signup", args, ctx.Stdin, true)
	if err != nil {
		return err
	}
	metadata := map[string]any{}
	if name := strings.TrimSpace(opts.FullName); name != "" {
		metadata["full_name"] = name
	}
	if username := strings.TrimSpace(opts.Username); username != "" {
		metadata["username"] = username
	}
	return withApp(ctx, func(app *bootstrap.App) error {
		res, err := app.Auth.SignUp(ctx.Ctx, opts.Email, opts.Password, metadata)
		if err != nil {
			return err
		}
		if res.ConfirmationRequired {
			return writef(ctx.Stdout, "Account created. Confirm %s before signing in.\n", opts.Email)
		}
		return writef(ctx.Stdout, "Account created and signed in as %s\n", res.Session.User.Email)
	})
}

func runLogout(ctx *commandContext, args []string) error {
	if _, err := parseOutputFlags("logout", args); err != nil {
		return err
	}
	return withApp(ctx, func(app *bootstrap.App) error {
		if !app.Sessions.Snapshot().Authenticated() {
			return writef(ctx.Stdout, "Not signed in\n")
		}
		app.Sessions.Logout(ctx.Ctx)
		return writef(ctx.Stdout, "Signed out\n")
	})
}

func runWhoami(ctx *commandContext, args []string) error {
	opts, err := parseOutputFlags("whoami", args)
	if err != nil {
		return err
	}
	return withApp(ctx, func(app *bootstrap.App) error {
		return printState(ctx.Stdout, app.Sessions.Snapshot(), opts)
	})
}

func runRefresh(ctx *commandContext, args []string) error {
	opts, err := parseOutputFlags("refresh", args)
	if err != nil {
		return err
	}
	return withApp(ctx, func(app *bootstrap.App) error {
		if _, err := app.Sessions.RefreshProfile(ctx.Ctx); err != nil {
			return err
		}
		return printState(ctx.Stdout, app.Sessions.Snapshot(), opts)
	})
}

func printState(w io.Writer, st domainauth.State, opts outputOptions) error {
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	if !st.Authenticated() {
		return writef(w, "Not signed in (phase: %s)\n", st.Phase())
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := st.Profile
	rows := [][2]string{
		{"Phase", string(st.Phase())},
		{"User ID", st.User.ID},
		{"Email", st.User.Email},
	}
	if p != nil {
		rows = append(rows,
			[2]string{"Name", p.FullName},
			[2]string{"Username", p.Username},
			[2]string{"Admin", fmt.Sprintf("%t", p.IsAdmin)},
		)
		if p.EmailConfirmedAt != nil {
			rows = append(rows, [2]string{"Confirmed", formatTime(*p.EmailConfirmedAt)})
		}
	}
	for _, row := range rows {
		if err := writef(tw, "%s\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// userMessage picks the user-facing text of an application error.
func userMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

// cliNavigator reports the post-logout destination instead of navigating.
type cliNavigator struct {
	out io.Writer
}

func (n *cliNavigator) Navigate(_ context.Context, path string) {
	_ = writef(n.out, "Next: %s\n", path)
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
