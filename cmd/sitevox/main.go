package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "sitevox"}

	root.AddCommand(serveCMD(), workerCMD(), crawlCMD(), queryCMD(), migrateCMD())
	_ = root.Execute()
}
