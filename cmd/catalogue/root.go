package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/goliatone/go-catalogue-cache/authz"
	"github.com/goliatone/go-catalogue-cache/pkg/di"
)

const (
	envBaseURL = "CATALOGUE_URL"
	envToken   = "CATALOGUE_TOKEN"

	// annotationSession marks commands that prompt for a token when none
	// was given and stdin is a terminal.
	annotationSession = "session"
)

var errAborted = errors.New("aborted")

// app carries the flag values and the wired container across commands.
type app struct {
	in     *bufio.Reader
	stdin  io.Reader
	out    io.Writer
	errOut io.Writer

	baseURL  string
	token    string
	logLevel string
	timeout  time.Duration
	pageSize int
	yes      bool
	force    bool

	// readSecret prompts without echo. Replaced in tests.
	readSecret func(prompt string) (string, error)

	container *di.Container
}

func newApp(stdin io.Reader, out, errOut io.Writer) *app {
	a := &app{
		in:     bufio.NewReader(stdin),
		stdin:  stdin,
		out:    out,
		errOut: errOut,
	}
	a.readSecret = a.readPassword
	return a
}

func newRootCmd(a *app) *cobra.Command {
	defaults := di.DefaultConfig()

	root := &cobra.Command{
		Use:           "catalogue",
		Short:         "Browse and lend items from the catalogue authority",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.baseURL, "url", envOr(envBaseURL, defaults.Transport.BaseURL), "authority base URL (env "+envBaseURL+")")
	flags.StringVar(&a.token, "token", "", "bearer token (env "+envToken+")")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.DurationVar(&a.timeout, "timeout", defaults.Transport.Timeout, "per-request timeout")
	flags.IntVar(&a.pageSize, "page-size", defaults.PageSize, "items requested per page")
	flags.BoolVarP(&a.yes, "yes", "y", false, "do not ask for confirmation")
	flags.BoolVar(&a.force, "force", false, "send requests the session does not appear to be allowed to make")

	root.AddCommand(
		newItemsCmd(a),
		newLendingsCmd(a),
		newCheckoutCmd(a),
		newReturnCmd(a),
		newWhoamiCmd(a),
		newHealthCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	logger := slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level}))

	token := a.token
	if token == "" {
		token = os.Getenv(envToken)
	}
	if token == "" && cmd.Annotations[annotationSession] == "true" && a.interactive() {
		var err error
		if token, err = a.readSecret("Token: "); err != nil {
			return fmt.Errorf("read token: %w", err)
		}
	}

	cfg := di.DefaultConfig()
	cfg.Transport.BaseURL = a.baseURL
	cfg.Transport.Timeout = a.timeout
	cfg.PageSize = a.pageSize
	cfg.Token = token

	container, err := di.NewContainer(cfg, di.WithLogger(logger))
	if err != nil {
		return err
	}
	a.container = container

	if token != "" {
		if _, err := container.SyncPermissions(cmd.Context()); err != nil {
			logger.Debug("could not load permissions from the authority", "error", err)
		}
	}
	return nil
}

func (a *app) interactive() bool {
	f, ok := a.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (a *app) readPassword(prompt string) (string, error) {
	f, ok := a.stdin.(*os.File)
	if !ok {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(a.errOut, prompt)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.errOut)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

// allowed reports whether the session appears to hold c. Without it the
// command fails unless --force, in which case the authority decides.
func (a *app) allowed(c authz.Capability) error {
	if a.force || a.container.Gate().Can(c) {
		return nil
	}
	return fmt.Errorf("this session does not have the %s permission (use --force to send the request anyway)", c)
}

// confirm asks a yes/no question unless --yes was given.
func (a *app) confirm(question string) error {
	if a.yes {
		return nil
	}
	fmt.Fprintf(a.out, "%s [y/N] ", question)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return errAborted
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sessionCmd(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationSession] = "true"
	return cmd
}
