package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nbsplayer",
	Short: "Note block song player",
	Long: `nbsplayer plays note block songs (.nbs) from a playlist.

It can run as a control server with an HTTP API and an inbox directory,
play songs straight from the command line, or inspect playlist archives.`,
	SilenceUsage: true,
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
