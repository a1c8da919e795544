package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zsprackett/claude-usage/internal/credential"
)

var loginCmd = &cobra.Command{
	Use:   "login [SESSION_KEY]",
	Short: "Store a claude.ai session key",
	Long: `Store a claude.ai session key as the manual credential. A stored key
always takes precedence over browser cookies.

Copy the value of the "sessionKey" cookie for claude.ai from your browser's
developer tools. When no key is given on the command line it is read from
the terminal without echo, or from standard input.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session key",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a := setup(cmd)
	defer a.close()

	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		var err error
		if key, err = readSessionKey(cmd.OutOrStdout(), os.Stdin); err != nil {
			return err
		}
	}

	cred := credential.Credential{Value: strings.TrimSpace(key), Source: credential.SourceManual}
	store := credential.NewStore(a.cfg.CredentialPath())
	if err := store.Save(cred); err != nil {
		return err
	}
	a.logger.Info("manual credential saved", "key", cred.Redacted())
	fmt.Fprintf(cmd.OutOrStdout(), "Saved session key %s to %s\n", cred.Redacted(), store.Path())
	return nil
}

func readSessionKey(w io.Writer, in *os.File) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(w, "Session key: ")
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(w)
		return string(b), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return line, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a := setup(cmd)
	defer a.close()

	store := credential.NewStore(a.cfg.CredentialPath())
	if err := store.Clear(); err != nil {
		return err
	}
	a.logger.Info("manual credential removed")
	fmt.Fprintln(cmd.OutOrStdout(), "Removed stored session key; browser cookies will be used")
	return nil
}
