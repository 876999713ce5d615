package serve

import (
	"fmt"
	"strings"
	"time"

	"github.com/guildkv/guildkv/cmd/util"
	"github.com/guildkv/guildkv/rpc/common"
	"github.com/guildkv/guildkv/rpc/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a guildKV node",
		Long:    `Start a guildKV node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is GUILDKV_<flag> (e.g. GUILDKV_NODE_ID=node-1)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Unique identifier of this node in the cluster (e.g. 'node-1'). Required"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:4000", util.WrapString("The address on which the RPC API will listen (host:port for tcp and ws, a socket path for unix)"))

	key = "advertise-addr"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("The address peers use to reach this node. Defaults to the endpoint"))

	key = "health-endpoint"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Optional address for the HTTP health and metrics listener (e.g. 0.0.0.0:4001). Disabled if empty"))

	key = "cluster"
	ServeCmd.PersistentFlags().Bool(key, false, util.WrapString("Run as part of a cluster. If false the node serves all guilds itself and seeds are ignored"))

	key = "seeds"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Comma-separated list of seed node addresses to join the cluster through (e.g. 'host-a:4000,host-b:4000'). Empty bootstraps a new cluster"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", util.WrapString("Directory used for the persistent record store"))

	key = "virtual-nodes"
	ServeCmd.PersistentFlags().Int(key, 150, util.WrapString("Number of virtual nodes each node places on the hash ring"))

	key = "cache-ttl"
	ServeCmd.PersistentFlags().Duration(key, 30*time.Second, util.WrapString("How long replica cache entries stay fresh"))

	key = "sweep-interval"
	ServeCmd.PersistentFlags().Duration(key, time.Minute, util.WrapString("How often expired replica cache entries are swept out"))

	key = "heartbeat-interval"
	ServeCmd.PersistentFlags().Duration(key, time.Second, util.WrapString("How often this node sends heartbeats to its peers"))

	key = "heartbeat-timeout"
	ServeCmd.PersistentFlags().Duration(key, 5*time.Second, util.WrapString("How long without a heartbeat before a peer is marked suspected"))

	key = "suspicion-timeout"
	ServeCmd.PersistentFlags().Duration(key, 15*time.Second, util.WrapString("How long a peer stays suspected before it is marked down"))

	key = "rebuild-interval"
	ServeCmd.PersistentFlags().Duration(key, 2*time.Second, util.WrapString("How often down peers are evicted and the ring is rebuilt"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 10, util.WrapString("Request timeout in seconds for node-to-node calls"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.NodeID = viper.GetString("node-id")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.AdvertiseAddr = viper.GetString("advertise-addr")
	serveCmdConfig.HealthEndpoint = viper.GetString("health-endpoint")
	serveCmdConfig.ClusterMode = viper.GetBool("cluster")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.VirtualNodes = viper.GetInt("virtual-nodes")
	serveCmdConfig.CacheTTL = viper.GetDuration("cache-ttl")
	serveCmdConfig.SweepInterval = viper.GetDuration("sweep-interval")
	serveCmdConfig.HeartbeatInterval = viper.GetDuration("heartbeat-interval")
	serveCmdConfig.HeartbeatTimeout = viper.GetDuration("heartbeat-timeout")
	serveCmdConfig.SuspicionTimeout = viper.GetDuration("suspicion-timeout")
	serveCmdConfig.RebuildInterval = viper.GetDuration("rebuild-interval")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Transport = viper.GetString("transport")
	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.NodeID == "" {
		return fmt.Errorf("node-id is required")
	}

	// peers must be able to reach this node, 0.0.0.0 is only a bind address
	if serveCmdConfig.AdvertiseAddr == "" {
		serveCmdConfig.AdvertiseAddr = serveCmdConfig.Endpoint
	}

	// parse seeds (only relevant in cluster mode)
	if seeds := viper.GetString("seeds"); seeds != "" {
		for _, seed := range strings.Split(seeds, ",") {
			if seed = strings.TrimSpace(seed); seed != "" {
				serveCmdConfig.Seeds = append(serveCmdConfig.Seeds, seed)
			}
		}
	}

	return nil
}

// run starts the guildKV node
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	// parse the transport
	t, err := server.NewServerTransport(viper.GetString("transport"))
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("guildkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
