package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"nbsplayer/internal/archive"
	"nbsplayer/internal/config"
	"nbsplayer/internal/nbs"

	"github.com/spf13/cobra"
)

var inspectPassphrase string

func init() {
	inspectCmd.Flags().StringVarP(&inspectPassphrase, "passphrase", "p", "", "passphrase for sealed archives")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "Describe a playlist archive",
	Long:  `Lists the songs, repeat mode and playing position stored in a playlist archive.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if inspectPassphrase == "" {
			inspectPassphrase = os.Getenv(config.EnvArchivePassphrase)
		}
		return inspect(data, inspectPassphrase, cmd.OutOrStdout())
	},
}

func inspect(data []byte, passphrase string, out io.Writer) error {
	sealed := archive.IsSealed(data)
	if sealed {
		if passphrase == "" {
			return archive.ErrSealed
		}
		opened, err := archive.Open(data, passphrase)
		if err != nil {
			return err
		}
		data = opened
	}

	var (
		a   *archive.Archive
		err error
	)
	format := "zip"
	if archive.IsLegacyJSON(data) {
		format = "legacy json"
		a, err = archive.DecodeLegacyJSON(data)
	} else {
		a, err = archive.DecodeBytes(data)
	}
	if err != nil {
		return err
	}

	if sealed {
		format += ", sealed"
	}
	fmt.Fprintf(out, "Format:  %s\n", format)
	fmt.Fprintf(out, "Repeat:  %s\n", a.RepeatMode)
	if a.Playing >= 0 && a.Playing < len(a.Songs) {
		fmt.Fprintf(out, "Playing: %d (%s)\n", a.Playing, a.Songs[a.Playing].Name)
	} else {
		fmt.Fprintln(out, "Playing: none")
	}
	fmt.Fprintf(out, "Songs:   %d\n\n", len(a.Songs))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tFILE\tTITLE\tAUTHOR\tLENGTH\tLAYERS")
	for i, s := range a.Songs {
		song, err := nbs.Decode(s.Data)
		if err != nil {
			fmt.Fprintf(tw, "%d\t%s\t(unreadable: %v)\t\t\t\n", i, s.Name, err)
			continue
		}
		length := time.Duration(song.Size+1) * song.TimePerTick
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			i, s.Name, song.Name, song.Author, length.Round(time.Second), len(song.Layers))
	}
	return tw.Flush()
}
