package cli

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ptrskay3/msde-cli/internal/types"
)

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}

func parseServices(args []string) []types.ServiceName {
	if len(args) == 0 {
		return nil
	}
	out := make([]types.ServiceName, 0, len(args))
	for _, arg := range args {
		out = append(out, types.ServiceName(strings.TrimSpace(arg)))
	}
	return out
}

func parsePackages(args []string) ([]types.PackageID, error) {
	out := make([]types.PackageID, 0, len(args))
	for _, arg := range args {
		pkg := types.PackageID(strings.TrimSpace(arg))
		if !pkg.Valid() {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("unknown package %s (known: %s)", arg, knownPackages()))
		}
		out = append(out, pkg)
	}
	return out, nil
}

func knownPackages() string {
	names := make([]string, 0, len(types.KnownPackages))
	for _, pkg := range types.KnownPackages {
		names = append(names, string(pkg))
	}
	return strings.Join(names, ", ")
}
