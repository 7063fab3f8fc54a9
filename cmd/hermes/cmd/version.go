package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MayankTamakuwala/HERMES/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.String())
			return nil
		},
	}
}
