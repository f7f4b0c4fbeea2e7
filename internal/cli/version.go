package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X ...cli.version=v1.2.3".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the keepsake version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("keepsake " + version)
	},
}
