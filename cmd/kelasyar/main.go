package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/avatar"
	"github.com/4xmen/kelasyar/internal/db"
	"github.com/4xmen/kelasyar/internal/messaging"
	"github.com/4xmen/kelasyar/internal/session"
	"github.com/4xmen/kelasyar/pkg/config"
	"github.com/4xmen/kelasyar/pkg/i18n"
	"github.com/4xmen/kelasyar/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"conversations"}
	}

	if err := runCommand(ctx, cfg, args, os.Stdin, os.Stdout); err != nil {
		logger.Fatal().Err(err).Msg(args[0] + " failed")
	}
}

// app carries everything a command needs, wired from the configuration.
type app struct {
	cfg     *config.Config
	cache   *db.DB
	session *session.Session
	client  *api.Client
	orch    *messaging.Orchestrator
	avatars *avatar.Resolver
	in      *bufio.Reader
	out     io.Writer
}

func newApp(cfg *config.Config, in io.Reader, out io.Writer) (*app, error) {
	if dir := filepath.Dir(cfg.CacheDBPath); dir != "" && !strings.Contains(cfg.CacheDBPath, ":memory:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	cache, err := db.New(cfg.CacheDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	sess, err := session.Load(cache, cfg.Token)
	if err != nil {
		// a corrupt saved session is dropped rather than blocking every command
		logger.Warn().Err(err).Msg("discarding saved session")
		_ = cache.ClearSession()
		sess, _ = session.Load(cache, "")
	}

	a := &app{
		cfg:     cfg,
		cache:   cache,
		session: sess,
		in:      bufio.NewReader(in),
		out:     out,
	}

	opts := []api.Option{
		api.OnUnauthorized(func() {
			logger.Warn().Msg("session rejected by the server, signing out")
			_ = sess.SignOut()
		}),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, api.WithTimeout(cfg.RequestTimeout))
	}
	a.client = api.New(cfg.APIBaseURL, sess, opts...)

	a.orch = messaging.New(a.client, sess,
		messaging.WithDirectory(cache),
		messaging.WithChildNamer(a.client),
		messaging.WithConfirmer(messaging.ConfirmFunc(a.confirm)),
		messaging.WithSaver(messaging.DirSaver{Dir: cfg.DownloadDir}),
		messaging.WithEditWindow(cfg.EditWindow),
		messaging.WithMaxUploadSize(cfg.MaxUploadSize),
		messaging.WithReadConcurrency(cfg.ReadConcurrency),
		messaging.WithTranslator(i18n.For(cfg.Locale)),
	)
	a.avatars = avatar.NewResolver(a.client, avatar.WithCache(cache))
	return a, nil
}

func (a *app) Close() error {
	return a.cache.Close()
}

// confirm asks a y/N question on the app's input.
func (a *app) confirm(prompt string) bool {
	fmt.Fprintf(a.out, "%s [y/N] ", prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func runCommand(ctx context.Context, cfg *config.Config, args []string, in io.Reader, out io.Writer) error {
	command := args[0]

	switch command {
	case "-h", "--help", "help":
		printUsage(out)
		return nil
	case "sandbox":
		return runSandbox(ctx, cfg, out)
	}

	handler, ok := commands[command]
	if !ok {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}

	a, err := newApp(cfg, in, out)
	if err != nil {
		return err
	}
	defer a.Close()

	return handler(ctx, a, args[1:])
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  kelasyar login <token>                      Save a session token")
	fmt.Fprintln(out, "  kelasyar logout                             Forget the saved session")
	fmt.Fprintln(out, "  kelasyar whoami                             Show the signed-in user")
	fmt.Fprintln(out, "  kelasyar conversations                      List conversations")
	fmt.Fprintln(out, "  kelasyar open <conversation>                Show a conversation and mark it read")
	fmt.Fprintln(out, "  kelasyar start <user>                       Open the conversation with a user")
	fmt.Fprintln(out, "  kelasyar send <conversation> <text...>      Send a message")
	fmt.Fprintln(out, "  kelasyar upload <conversation> <path>       Send a file")
	fmt.Fprintln(out, "  kelasyar download <message> <file name>     Save an attachment")
	fmt.Fprintln(out, "  kelasyar edit <conversation> <message> <text...>")
	fmt.Fprintln(out, "  kelasyar delete <conversation> <message>")
	fmt.Fprintln(out, "  kelasyar rename <conversation> <title...>   Set a conversation title (admin)")
	fmt.Fprintln(out, "  kelasyar drop <conversation>                Delete a conversation (admin)")
	fmt.Fprintln(out, "  kelasyar recipients                         List people you can write to")
	fmt.Fprintln(out, "  kelasyar groups                             List your class groups")
	fmt.Fprintln(out, "  kelasyar group <group>                      Open a class group conversation")
	fmt.Fprintln(out, "  kelasyar search <conversation> <query...>   Search a conversation")
	fmt.Fprintln(out, "  kelasyar watch                              Print pushed events as they arrive")
	fmt.Fprintln(out, "  kelasyar status                             Show local cache statistics")
	fmt.Fprintln(out, "  kelasyar status --json")
	fmt.Fprintln(out, "  kelasyar sandbox                            Run a local backend with demo users")
}
