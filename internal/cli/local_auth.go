package cli

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ptrskay3/msde-cli/internal/localauth"
)

type localAuthOptions struct {
	Addr     string
	Key      string
	Lifetime string
}

func newLocalAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local-auth",
		Short: "Development-only session authority",
	}
	cmd.AddCommand(newLocalAuthServeCommand())
	return cmd
}

func newLocalAuthServeCommand() *cobra.Command {
	opts := localAuthOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions for any identity on a local address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if viper.GetString("log_level") != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			server := localauth.New(localauth.Config{
				Key:      []byte(resolveString(cmd, opts.Key, "local_auth_key", "key")),
				Lifetime: viper.GetDuration("local_auth_lifetime"),
			})
			return server.Serve(cmd.Context(), resolveString(cmd, opts.Addr, "local_auth_addr", "addr"))
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", localauth.DefaultAddr, "Listen address")
	cmd.Flags().StringVar(&opts.Key, "key", "", "HS256 signing key (default: built-in development key)")
	cmd.Flags().StringVar(&opts.Lifetime, "lifetime", localauth.DefaultLifetime.String(), "Session lifetime")
	_ = viper.BindPFlag("local_auth_addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("local_auth_key", cmd.Flags().Lookup("key"))
	_ = viper.BindPFlag("local_auth_lifetime", cmd.Flags().Lookup("lifetime"))
	return cmd
}
