package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ptrskay3/msde-cli/internal/app"
	"github.com/Ptrskay3/msde-cli/internal/shared"
)

type loginOptions struct {
	Identity string
	Secret   string
}

func newLoginCommand() *cobra.Command {
	opts := loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a session from the authority and store it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "Identity to log in as")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "Credential secret")
	_ = viper.BindPFlag("identity", cmd.Flags().Lookup("identity"))
	_ = viper.BindPFlag("secret", cmd.Flags().Lookup("secret"))
	return cmd
}

func runLogin(ctx context.Context, cmd *cobra.Command, opts loginOptions) error {
	service, err := newAppService()
	if err != nil {
		return err
	}
	result, err := service.Login(ctx, app.LoginRequest{
		Identity: resolveString(cmd, opts.Identity, "identity", "identity"),
		Secret:   resolveString(cmd, opts.Secret, "secret", "secret"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s), session valid until %s\n",
		result.Identity, result.Authority, result.Session.ExpiresAt.Format("2006-01-02 15:04 MST"))
	return nil
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session and credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, err := newAppService()
			if err != nil {
				return err
			}
			if err := service.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

type whoamiOptions struct {
	Verify    bool
	ShowToken bool
}

func newWhoamiCommand() *cobra.Command {
	opts := whoamiOptions{}
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity of the current session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWhoami(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "Ask the authority to confirm the token")
	cmd.Flags().BoolVar(&opts.ShowToken, "show-token", false, "Print the redacted session token")
	return cmd
}

func runWhoami(ctx context.Context, out io.Writer, opts whoamiOptions) error {
	service, err := newAppService()
	if err != nil {
		return err
	}
	result, err := service.Whoami(ctx, opts.Verify)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%s)\n", result.Identity, result.Authority)
	if result.Remote != "" && result.Remote != result.Identity {
		fmt.Fprintf(out, "authority reports: %s\n", result.Remote)
	}
	if opts.ShowToken {
		token, err := service.Sessions.BearerToken(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "token: %s\n", shared.RedactToken(token))
	}
	return nil
}
