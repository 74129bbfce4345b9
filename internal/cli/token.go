package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var tokenKey string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the backend token in the system keyring",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store the backend token",
	Long: `Store the bearer token used when replaying queued actions. With no
argument the token is read from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Credentials == nil {
			return fmt.Errorf("credentials not initialized")
		}
		var value string
		if len(args) == 1 {
			value = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading token from stdin: %w", err)
			}
			value = line
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return fmt.Errorf("token must not be empty")
		}
		if err := Credentials.Set(resolvedTokenKey(), value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token stored under %q.\n", resolvedTokenKey())
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the backend token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Credentials == nil {
			return fmt.Errorf("credentials not initialized")
		}
		if err := Credentials.Delete(resolvedTokenKey()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token %q removed.\n", resolvedTokenKey())
		return nil
	},
}

func resolvedTokenKey() string {
	if tokenKey != "" {
		return tokenKey
	}
	if Config != nil && Config.Backend.TokenKey != "" {
		return Config.Backend.TokenKey
	}
	return "backend-token"
}

func init() {
	tokenCmd.PersistentFlags().StringVar(&tokenKey, "key", "", "Keyring entry (defaults to backend.token_key)")
	tokenCmd.AddCommand(tokenSetCmd, tokenClearCmd)
	rootCmd.AddCommand(tokenCmd)
}
