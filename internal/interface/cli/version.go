package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/remloop/internal/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remloop version %s\n", buildinfo.GetVersion())
			fmt.Printf("  Go version:    %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
