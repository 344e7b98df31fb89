package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "compendium", Short: "Background research engine"}

	root.AddCommand(serveCMD(), migrateCMD(), reportCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
