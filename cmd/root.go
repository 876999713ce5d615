package cmd

import (
	"fmt"
	"os"

	"github.com/guildkv/guildkv/cmd/kv"
	"github.com/guildkv/guildkv/cmd/serve"
	"github.com/guildkv/guildkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "guildkv",
		Short: "guild-partitioned key-value store",
		Long: fmt.Sprintf(`guildKV (v%s)

A distributed key-value store that partitions guild records across a
cluster of nodes with a consistent-hash ring and gossip membership.
Any node can serve any request, forwarding to the owning node where
needed.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of guildKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("guildKV v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, ws)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
