package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mdl/internal/credentials"
	"mdl/internal/logging"
	"mdl/internal/momentos"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and store the access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			store, err := ctx.credentialsStore()
			if err != nil {
				return err
			}

			result, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if err := store.Save(momentos.NewCredentials(result.UserID, result.Token)); err != nil {
				return err
			}
			logging.NewComponentLogger(ctx.log(), "login").Info("credentials saved",
				logging.String("path", store.Path()),
				logging.String("api", client.BaseURL()),
				logging.String("privileges", result.Privileges),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in as %s (user %s)\n", email, result.UserID)
			if exp, ok, err := credentials.TokenExpiry(result.Token); err == nil && ok {
				fmt.Fprintf(out, "Token expires %s\n", humanize.RelTime(exp, time.Now(), "ago", "from now"))
			}
			return nil
		},
	}
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.credentialsStore()
			if err != nil {
				return err
			}
			removed, err := store.Clear()
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Logged out (removed %s)\n", store.Path())
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored credentials")
			}
			return nil
		},
	}
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func readPassword(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if file, ok := in.(*os.File); ok && isTerminal(file) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		secret, err := term.ReadPassword(int(file.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return requirePassword(string(secret))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errors.New("read password: no input on stdin")
		}
		return "", fmt.Errorf("read password: %w", err)
	}
	return requirePassword(strings.TrimRight(line, "\r\n"))
}

func requirePassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
