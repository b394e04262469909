package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shadowcam/internal/auth"
	"shadowcam/internal/config"
	"shadowcam/internal/services"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var username string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the analysis service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			user := strings.TrimSpace(username)
			if user == "" {
				user = strings.TrimSpace(cfg.Auth.Username)
			}
			if user == "" {
				return errors.New("username required (--username or auth.username)")
			}

			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 30 * time.Second}
			tok, err := auth.Login(cmd.Context(), client, cfg.API.BaseURL, user, password)
			if err != nil {
				return fmt.Errorf("login failed: %s", services.Message(err))
			}
			store := auth.NewFileStore(cfg.Auth.TokenPath)
			if err := store.Save(tok); err != nil {
				return fmt.Errorf("save token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Signed in as %s\n", user)
			if exp, ok := tok.ExpiresAt(); ok {
				fmt.Fprintf(out, "Token expires %s\n", exp.Local().Format(time.RFC1123))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username (defaults to auth.username)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored sign-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := auth.NewFileStore(cfg.Auth.TokenPath).Clear(); err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

// readPassword reads without echo from a terminal, or one line from stdin.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if file, ok := in.(*os.File); ok && !fromStdin && isatty.IsTerminal(file.Fd()) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		raw, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password required")
	}
	return password, nil
}

func tokenSummary(cfg *config.Config) (auth.Token, string) {
	tok, err := auth.NewFileStore(cfg.Auth.TokenPath).Load()
	if err != nil {
		return auth.Token{}, fmt.Sprintf("token file unreadable (%v)", err)
	}
	if tok.Empty() {
		return tok, "not signed in"
	}
	exp, ok := tok.ExpiresAt()
	switch {
	case !ok:
		return tok, "signed in"
	case time.Now().After(exp):
		return tok, fmt.Sprintf("expired %s", exp.Local().Format(time.RFC1123))
	default:
		return tok, fmt.Sprintf("signed in until %s", exp.Local().Format(time.RFC1123))
	}
}
