package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexanderwatt/corecache/cmd/farm"
	"github.com/alexanderwatt/corecache/cmd/item"
	"github.com/alexanderwatt/corecache/cmd/serve"
	"github.com/alexanderwatt/corecache/cmd/util"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "corecache",
		Short: "distributed versioned item cache",
		Long: fmt.Sprintf(`corecache (v%s)

A distributed, versioned item cache with publish/subscribe change
notification and a sharded request-processing worker, written in Go.
The cache can run as a single in-memory node or as a RAFT-replicated
cluster for linearizability and fault tolerance.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of corecache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corecache v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(item.ItemCommands)
	RootCmd.AddCommand(farm.FarmCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
