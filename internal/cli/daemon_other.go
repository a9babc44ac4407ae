//go:build !linux
// +build !linux

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"netcfg/internal/config"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon [OPTIONS]",
	Short: "运行 netcfg daemon",
	Long:  `运行 netcfg daemon。仅支持 Linux 平台。`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("netcfg daemon only supports Linux (current OS: %s)", runtime.GOOS)
	},
}

func init() {
	config.AddFlags(daemonCmd.Flags())
}
