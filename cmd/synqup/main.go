package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/client"
	"github.com/npezzotti/synqup/internal/reconciler"
	"github.com/npezzotti/synqup/internal/tui"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	defaultAPIURL   = "http://localhost:8000"
	refreshInterval = 6 * time.Hour
	requestTimeout  = 15 * time.Second
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// apiURL returns the API root: env var > default.
func apiURL() string {
	if u := os.Getenv("SYNQUP_API_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultAPIURL
}

// newLogger writes to SYNQUP_LOG when set. The terminal belongs to the room
// view, so nothing is logged there.
func newLogger() (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	path := os.Getenv("SYNQUP_LOG")
	if path == "" {
		return logger, func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	logger.SetOutput(f)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return logger, func() { f.Close() }, nil
}

func run(args []string) error {
	if len(args) == 0 {
		printHelp()
		return nil
	}

	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	tokenPath, err := client.TokenFilePath()
	if err != nil {
		return err
	}
	session := client.NewSession(apiURL(), tokenPath, logger)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "--version", "version", "-v":
		fmt.Println("synqup " + version)
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "signup":
		return runSignUp(session, rest)
	case "login":
		return runLogin(session, rest)
	case "logout":
		return runLogout(session)
	case "whoami":
		return runWhoami(session)
	case "rooms":
		return runRooms(session)
	case "create":
		return runCreate(session, logger, rest)
	case "join", "open":
		if len(rest) != 1 {
			return fmt.Errorf("usage: synqup %s <join code | room id>", cmd)
		}
		return runOpen(session, logger, rest[0])
	}

	printHelp()
	return fmt.Errorf("unknown command %q", cmd)
}

func runSignUp(session *client.Session, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	username := fs.String("username", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	if err := promptIfEmpty(in, email, "Email"); err != nil {
		return err
	}
	if err := promptIfEmpty(in, username, "Username"); err != nil {
		return err
	}
	password, err := readPassword(in)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user, err := session.SignUp(ctx, *email, *username, password)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			return errors.New("an account with that email or username already exists")
		}
		return err
	}
	printSuccess("Welcome, @" + user.Username)
	return nil
}

func runLogin(session *client.Session, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	if err := promptIfEmpty(in, email, "Email"); err != nil {
		return err
	}
	password, err := readPassword(in)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user, err := session.SignIn(ctx, *email, password)
	if err != nil {
		if client.IsStatus(err, 401) {
			return errors.New("invalid email or password")
		}
		return err
	}
	printSuccess("Authenticated as @" + user.Username)
	return nil
}

func runLogout(session *client.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	// restoring first lets the server clear its cookie; a stale token is fine
	session.Restore(ctx) //nolint:errcheck
	if err := session.SignOut(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	printSuccess("Logged out")
	return nil
}

// restore loads the saved session or explains how to create one.
func restore(session *client.Session) (types.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	user, err := session.Restore(ctx)
	if err != nil {
		if errors.Is(err, types.ErrUnauthorized) {
			return types.User{}, errors.New("not logged in, run: synqup login")
		}
		return types.User{}, err
	}
	return *user, nil
}

func runWhoami(session *client.Session) error {
	user, err := restore(session)
	if err != nil {
		return err
	}
	fmt.Printf("@%s <%s>\n", user.Username, user.EmailAddress)
	return nil
}

func runRooms(session *client.Session) error {
	if _, err := restore(session); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	rooms, err := session.Client().ListRooms(ctx)
	if err != nil {
		return err
	}
	printRooms(os.Stdout, rooms)
	return nil
}

func runCreate(session *client.Session, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	var description string
	fs.StringVar(&description, "description", "", "room description")
	fs.StringVar(&description, "d", "", "room description (shorthand)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if name == "" {
		return errors.New("usage: synqup create [-d description] <name>")
	}

	if _, err := restore(session); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	room, err := session.Client().CreateRoom(ctx, name, description)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Created %s, join code %s", room.Name, room.JoinCode))

	return openRoom(session, logger, room.Id)
}

func runOpen(session *client.Session, logger *logrus.Logger, arg string) error {
	if _, err := restore(session); err != nil {
		return err
	}

	roomId, err := resolveRoom(session.Client(), arg)
	if err != nil {
		return err
	}
	return openRoom(session, logger, roomId)
}

type roomJoiner interface {
	JoinRoom(ctx context.Context, code string) (*client.JoinResult, error)
}

// resolveRoom accepts a room id or a join code. Joining by code creates the
// membership when the user does not have one yet.
func resolveRoom(api roomJoiner, arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := api.JoinRoom(ctx, strings.TrimSpace(arg))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("no room with code %q", arg)
		}
		return uuid.Nil, err
	}
	if res.Joined {
		printSuccess("Joined " + res.Room.Name)
	}
	return res.Room.Id, nil
}

func openRoom(session *client.Session, logger *logrus.Logger, roomId uuid.UUID) error {
	user, ok := session.User()
	if !ok {
		return errors.New("not logged in, run: synqup login")
	}
	api := session.Client()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, requestTimeout)
	feed, err := client.DialFeed(dialCtx, api.FeedURL(), session.Token(), logger)
	dialCancel()
	if err != nil {
		return fmt.Errorf("connect to live updates: %w", err)
	}
	defer feed.Close()

	events := tui.NewEvents(user.Id)
	defer events.Close()

	// navigation only follows sign in and sign out
	detach := session.OnChange(events.SessionChanged)
	defer detach()

	rec, err := reconciler.New(session, reconciler.Deps{
		Rooms:    api,
		Messages: api,
		Media:    api,
		Profiles: api,
		Feed:     feed,
	}, reconciler.WithLogger(logger), reconciler.WithPlayer(events), reconciler.WithListener(events))
	if err != nil {
		return err
	}
	defer rec.Teardown()

	go keepFresh(ctx, session, logger)

	p := tea.NewProgram(tui.NewRoomModel(rec, roomId, user, events), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui error: %w", err)
	}

	if m, ok := final.(tui.RoomModel); ok && m.Err() != nil {
		if errors.Is(m.Err(), tui.ErrSignedOut) {
			printSuccess("Signed out")
			return nil
		}
		return m.Err()
	}
	return nil
}

// keepFresh refreshes the token while a room is open. A rejected refresh
// signs the session out, which closes the room.
func keepFresh(ctx context.Context, session *client.Session, logger *logrus.Logger) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, requestTimeout)
			err := session.Refresh(rctx)
			cancel()
			if err == nil {
				continue
			}
			logger.WithError(err).Warn("token refresh failed")
			if errors.Is(err, types.ErrUnauthorized) {
				session.SignOut(ctx) //nolint:errcheck
				return
			}
		}
	}
}

func promptIfEmpty(in *bufio.Reader, value *string, label string) error {
	if *value != "" {
		return nil
	}
	fmt.Printf("%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	*value = strings.TrimSpace(line)
	if *value == "" {
		return fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return nil
}

// readPassword reads SYNQUP_PASSWORD when set, otherwise prompts.
func readPassword(in *bufio.Reader) (string, error) {
	if p := os.Getenv("SYNQUP_PASSWORD"); p != "" {
		return p, nil
	}
	var password string
	if err := promptIfEmpty(in, &password, "Password"); err != nil {
		return "", err
	}
	return password, nil
}
