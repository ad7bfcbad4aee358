package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

func init() {
	kinesisCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Kinesis",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(Version)
			},
		})
}
