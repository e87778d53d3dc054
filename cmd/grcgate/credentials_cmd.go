package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grcgate/grcgate/internal/secret"
)

func newCredentialsCmd() *cobra.Command {
	credCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage credentials kept in the OS keyring",
		Long: "Store credentials in the OS keyring so configuration can reference them as " +
			"${keyring:<name>} instead of holding them in plain text.",
	}
	credCmd.AddCommand(newCredentialsSetCmd(), newCredentialsDeleteCmd())
	return credCmd
}

func keyringSource() (secret.WritableSource, error) {
	return secret.NewResolver().Writable(secret.SchemeKeyring)
}

func newCredentialsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a credential, read from the terminal without echo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := keyringSource()
			if err != nil {
				return err
			}
			value, err := readPassword(fmt.Sprintf("Value for %s: ", args[0]), cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("refusing to store an empty credential")
			}
			if err := src.Store(cmd.Context(), args[0], value); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored %s; reference it as ${keyring:%s}\n", args[0], args[0])
			return err
		},
	}
}

func newCredentialsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := keyringSource()
			if err != nil {
				return err
			}
			if err := src.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return err
		},
	}
}
