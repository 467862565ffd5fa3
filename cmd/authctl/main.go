// Command authctl runs operator tasks against the auth store.
//
// Usage:
//
//	authctl [server flags] migrate
//	authctl [server flags] create-admin -email root@example.com -name Root
//	authctl [server flags] purge-tokens
//	authctl [server flags] audit [-limit 50] [-identity id]
//
// Server flags are the ones the server accepts (-d, -c, -env, ...).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vonjiaina/pharmauth/internal/server"
	"github.com/vonjiaina/pharmauth/internal/server/config"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"golang.org/x/term"
)

var commands = []string{"migrate", "create-admin", "purge-tokens", "audit"}

var errUsage = errors.New("usage: authctl [server flags] <" + strings.Join(commands, "|") + "> [flags]")

// readPassword is a seam for tests.
var readPassword = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// splitArgs separates server flags from the command and its flags.
func splitArgs(args []string) (global []string, cmd string, rest []string, err error) {
	for i, a := range args {
		for _, c := range commands {
			if a == c {
				return args[:i], c, args[i+1:], nil
			}
		}
	}
	return nil, "", nil, errUsage
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global, cmd, rest, err := splitArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(global)
	if err != nil {
		return err
	}
	// operator runs must not spin up the background purge
	cfg.PurgeInterval = 0

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	switch cmd {
	case "migrate":
		fmt.Fprintln(out, "schema up to date")
		return nil
	case "create-admin":
		return createAdmin(ctx, app, rest, out)
	case "purge-tokens":
		n, err := app.PurgeTokens(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "purged %d expired refresh tokens\n", n)
		return nil
	case "audit":
		return listAudit(ctx, app, rest, out)
	}
	return errUsage
}

func createAdmin(ctx context.Context, app *server.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "admin email")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *name == "" {
		return errors.New("create-admin: -email and -name are required")
	}

	pw, err := readPassword("Password: ")
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	confirm, err := readPassword("Repeat password: ")
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if pw != confirm {
		return errors.New("create-admin: passwords do not match")
	}

	identity, err := app.Identities().CreateAdmin(ctx, *email, *name, pw)
	if err != nil {
		return fmt.Errorf("create-admin: %w", err)
	}
	fmt.Fprintf(out, "created admin %s (%s)\n", identity.Email, identity.ID)
	return nil
}

func listAudit(ctx context.Context, app *server.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 50, "entries to show")
	identity := fs.String("identity", "", "only entries of this identity id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list := app.Audit().Recent
	if *identity != "" {
		list = func(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
			return app.Audit().ForIdentity(ctx, *identity, limit)
		}
	}
	entries, err := list(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Action, orDash(e.IdentityID), orDash(e.ResourceID), orDash(e.IPAddress))
	}
	return nil
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
