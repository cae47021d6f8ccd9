package serve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/alexanderwatt/corecache/cmd/util"
	"github.com/alexanderwatt/corecache/rpc/common"
	"github.com/alexanderwatt/corecache/rpc/server"
	"github.com/alexanderwatt/corecache/rpc/transport"
	"github.com/alexanderwatt/corecache/rpc/transport/http"
	"github.com/alexanderwatt/corecache/rpc/transport/tcp"
	"github.com/alexanderwatt/corecache/rpc/transport/unix"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the cache server",
		Long:    `Start the cache server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is CORECACHE_<flag> (e.g. CORECACHE_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "mode"
	ServeCmd.PersistentFlags().String(key, "local", cmdUtil.WrapString("Store mode: 'local' serves a single-node in-memory store, 'replicated' serves a RAFT-replicated store"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(replicated mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT, HeartbeatRTT) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("(replicated mode) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5000, cmdUtil.WrapString("(replicated mode) CompactionOverhead defines the number of log entries that should be retained after compaction. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(replicated mode) DataDir is the directory used for storing the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().Uint64(key, 0, cmdUtil.WrapString("(replicated mode) ReplicaID is the unique numeric identifier of this node within the cluster"))

	key = "shard-id"
	ServeCmd.PersistentFlags().Uint64(key, 128, cmdUtil.WrapString("(replicated mode) ShardID of the served raft shard; clients address it as the channel id"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(replicated mode) ClusterMembers is a comma-separated list of NodeHost addresses in the format '1=localhost:63001,2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Consensus and connection timeout in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "tcp://0.0.0.0:4004", cmdUtil.WrapString("The address on which the API will listen (e.g. tcp://0.0.0.0:4004, unix:///run/corecache.sock)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The address on which Prometheus metrics are exposed under /metrics (empty disables the endpoint)"))

	key = "sweep-interval"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Interval in seconds between subscription lease expiry sweeps"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// parse mode
	switch viper.GetString("mode") {
	case "local":
		serveCmdConfig.Mode = common.CacheModeLocal
	case "replicated":
		serveCmdConfig.Mode = common.CacheModeReplicated
	default:
		return fmt.Errorf("invalid mode: %s (expected local or replicated)", viper.GetString("mode"))
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.ReplicaID = viper.GetUint64("replica-id")
	serveCmdConfig.ShardID = viper.GetUint64("shard-id")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.SweepIntervalSecond = viper.GetInt64("sweep-interval")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cluster member ID %s: %v", parts[0], err)
			}
			serveCmdConfig.ClusterMembers[id] = strings.TrimSpace(parts[1])
		}
	} else if serveCmdConfig.IsReplicated() {
		// error only in replicated mode
		return fmt.Errorf("ClusterMembers is required in replicated mode")
	}

	if serveCmdConfig.IsReplicated() {
		if serveCmdConfig.ReplicaID == 0 {
			return fmt.Errorf("ReplicaID is required in replicated mode")
		}

		// test if the replica id is in the cluster members
		if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
			return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
		}
	}

	return nil
}

// run starts the cache server
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	// Parse the transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPDefaultServerTransport()
	case "unix":
		t = unix.NewUnixDefaultServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
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
	viper.SetEnvPrefix("corecache")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
