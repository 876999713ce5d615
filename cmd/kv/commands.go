package kv

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [guild] [value]",
		Short: "Stores the record for a guild",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			guildID := args[0]
			value := args[1]
			if rec, err := rpcCluster.Put(guildID, []byte(value)); err != nil {
				return err
			} else {
				fmt.Printf("put successfully (version=%d, owner=%s)\n", rec.Version, rec.Owner)
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [guild]",
		Short: "Reads the record for a guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guildID := args[0]
			if rec, found, stale, err := rpcCluster.Get(guildID); err != nil {
				return err
			} else if !found {
				fmt.Printf("guild=%s, found=false\n", guildID)
			} else {
				fmt.Printf("guild=%s, found=true, stale=%t, version=%d, owner=%s, payload=%s\n",
					guildID, stale, rec.Version, rec.Owner, rec.Payload)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [guild]",
		Short: "Deletes the record of a guild",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guildID := args[0]
			if err := rpcCluster.Delete(guildID); err != nil {
				return err
			} else {
				fmt.Println("delete successfully")
			}
			return nil
		},
	}
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks connectivity to a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeID, err := rpcCluster.Ping(); err != nil {
				return err
			} else {
				fmt.Printf("pong from %s\n", nodeID)
			}
			return nil
		},
	}
)
