package command

import (
	"github.com/spf13/cobra"

	"github.com/braidb/braid/src/config"
)

var _config = config.NewDefaultConfig()

// RootCmd is the root command for braid
var RootCmd = &cobra.Command{
	Use:              "braid",
	Short:            "braid catch-up node",
	TraverseChildren: true,
}
