package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/sqlfixture/internal/vault"
)

func newGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Print a new random encryption passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated encryption key: %s\n", key)
			fmt.Fprintln(out, "\nAdd this to your .env file:")
			fmt.Fprintf(out, "%s=%s\n", vault.EnvPassphrase, key)
			return nil
		},
	}
}

func newEncryptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <value> [key]",
		Short: "Encrypt a password",
		Long: `Encrypt a password into a token that can be stored in configuration.

The passphrase is the optional key argument, otherwise vault.passphrase or
ENCRYPTION_KEY.

	Examples:
	  sqlfixture encrypt 's3cret'
	  sqlfixture encrypt 's3cret' "$ENCRYPTION_KEY"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vault(optionalArg(args, 1))
			if err != nil {
				return err
			}
			token, err := v.Encrypt(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Encrypted password: %s\n", token)
			fmt.Fprintln(out, "\nAdd this to your .env file:")
			fmt.Fprintf(out, "MYSQL_PASSWORD=%s\n", token)
			return nil
		},
	}
}

func newDecryptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <value> [key]",
		Short: "Decrypt an encrypted password",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.vault(optionalArg(args, 1))
			if err != nil {
				return err
			}
			plain, err := v.Decrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Decrypted password: %s\n", plain)
			return nil
		},
	}
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
