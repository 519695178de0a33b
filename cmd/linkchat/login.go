package main

import (
	"errors"
	"fmt"
	"strings"

	"linkchat/cmd/internal/auth/credentials"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access/refresh token pair in the credential file",
	Long: `Store the token pair given by --access-token and --refresh-token in the
credential file, so later commands can authenticate without flags.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openCredentialFile(cfg.CredentialsFile)
		if err != nil {
			return err
		}
		return store.Clear()
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return errors.New("--access-token (or LINKCHAT_ACCESS_TOKEN) is required")
	}

	store, err := openCredentialFile(cfg.CredentialsFile)
	if err != nil {
		return err
	}
	if err := store.Set(credentials.Pair{Access: cfg.AccessToken, Refresh: cfg.RefreshToken}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "credentials saved to %s\n", cfg.CredentialsFile)
	return nil
}

func openCredentialFile(path string) (*credentials.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("no credential file configured (--credentials or LINKCHAT_CREDENTIALS)")
	}
	return credentials.Open(path, credentials.Pair{})
}
