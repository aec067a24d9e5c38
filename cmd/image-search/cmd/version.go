package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	imagesearch "github.com/menta2k/image-search"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, imagesearch.Version)
				return nil
			}
			fmt.Fprintf(out, "image-search %s (%s, %s/%s)\n",
				imagesearch.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
