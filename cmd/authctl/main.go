// authctl is a small command line client for the auth API. The session only lives
// as long as the command, so every invocation logs in first.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/client"
	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"golang.org/x/term"
)

const usage = `usage: authctl [flags] <command>

commands:
  login      log in and print the account
  me         print the identity behind the access token
  sessions   list active sessions
  logout     log in, then end that session

flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}

	addr := fs.String("addr", envOr("AUTHCTL_ADDR", "http://localhost:8080"), "auth server base URL")
	email := fs.String("email", os.Getenv("AUTHCTL_EMAIL"), "account email")
	timeout := fs.Duration("timeout", client.DefaultTimeout, "per request timeout")
	verbose := fs.Bool("v", false, "log client activity")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one command is required")
	}
	cmd := fs.Arg(0)
	switch cmd {
	case "login", "me", "sessions", "logout":
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	l := logger.Nop()
	if *verbose {
		l = logger.NewWithLevel(logger.DebugLevel, os.Stderr)
	}

	c, err := client.New(*addr, client.WithTimeout(*timeout), client.WithLogger(l))
	if err != nil {
		return err
	}

	reader := bufio.NewReader(in)
	if *email == "" {
		if *email, err = prompt(reader, out, "Email: "); err != nil {
			return err
		}
	}
	password, err := readSecret(reader, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*(*timeout))
	defer cancel()

	user, err := c.Login(ctx, *email, password)
	if err != nil {
		return err
	}

	switch cmd {
	case "login":
		fmt.Fprintf(out, "logged in as %s <%s> roles=%s\n", user.Username, user.Email, strings.Join(user.Roles, ","))
	case "me":
		me, err := c.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s roles=%s\n", me.UserID, me.Username, strings.Join(me.Roles, ","))
	case "sessions":
		sessions, err := c.Sessions(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tEXPIRES\tIP\tUSER AGENT")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID,
				s.CreatedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339), s.IPAddress, s.UserAgent)
		}
		return tw.Flush()
	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "logged out")
	}
	return nil
}

func prompt(r *bufio.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo on a terminal and falls back to a plain line otherwise.
func readSecret(r *bufio.Reader, w io.Writer) (string, error) {
	if pw := os.Getenv("AUTHCTL_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(r, w, "Password: ")
	}
	fmt.Fprint(w, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
