package main

import (
	"bufio"
	"errors"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbocsi/carelink/credentials"
)

var loginProfile credentials.Profile

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Store the session token used to authenticate realtime and API calls",
	Long: `Store a session token. The token is read from the argument, or from the
first line of stdin when no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no token given")
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("token cannot be empty")
		}

		store, err := credentials.Open(cfg.Credentials.Path)
		if err != nil {
			return err
		}

		var profile *credentials.Profile
		if loginProfile != (credentials.Profile{}) {
			p := loginProfile
			profile = &p
		}
		if err := store.Save(token, profile); err != nil {
			return err
		}

		if !store.Authenticated() {
			color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "warning: the stored token is already expired")
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Logged in, credentials saved to %s\n", cfg.Credentials.Path)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credentials.Open(cfg.Credentials.Path)
		if err != nil {
			return err
		}
		if err := store.Clear(); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginProfile.ID, "user-id", "", "user id")
	loginCmd.Flags().StringVar(&loginProfile.Name, "name", "", "display name")
	loginCmd.Flags().StringVar(&loginProfile.Email, "email", "", "email address")
	loginCmd.Flags().StringVar(&loginProfile.Role, "role", "", "role, e.g. caregiver or admin")
}
