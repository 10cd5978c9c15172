package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// newHashCmd builds the offline helper that turns a password into a bcrypt
// hash suitable for --admin-hash / --general-hash (or their env variables).
func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [password]",
		Short: "Generate a bcrypt hash for --admin-hash or --general-hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string

			switch {
			case len(args) == 1:
				password = args[0]
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: passwords passed as arguments may be visible in shell history; run without arguments to be prompted instead")
			case term.IsTerminal(int(os.Stdin.Fd())):
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				secret, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				password = string(secret)
			default:
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}

			if password == "" {
				return errors.New("password cannot be empty")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(hash))

			return nil
		},
	}
}
