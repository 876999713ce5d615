package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for one storage node.
type ServerConfig struct {
	// Node identity
	NodeID        string
	Endpoint      string // bind address of the RPC listener
	AdvertiseAddr string // address peers use to reach this node
	ClusterMode   bool   // false = single node, seeds ignored
	Seeds         []string

	// Storage parameters
	DataDir      string
	VirtualNodes int

	// Replica cache parameters
	CacheTTL      time.Duration
	SweepInterval time.Duration

	// Membership timing
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SuspicionTimeout  time.Duration
	RebuildInterval   time.Duration

	// RPC settings
	TimeoutSecond int64
	Transport     string // tcp | unix | ws
	Serializer    string // json | gob | binary

	// HTTP health/metrics settings
	HealthEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node identity
	addSection("Node Identity")
	addField("Node ID", c.NodeID)
	addField("Endpoint", c.Endpoint)
	addField("Advertise Address", c.AdvertiseAddr)

	// RPC settings
	addSection("RPC Server")
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Health Endpoint", c.HealthEndpoint)

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Virtual Nodes", strconv.Itoa(c.VirtualNodes))

	// Replica cache
	addSection("Replica Cache")
	addField("TTL", c.CacheTTL.String())
	addField("Sweep Interval", c.SweepInterval.String())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.ClusterMode {
		// Membership timing
		addSection("Membership")
		addField("Heartbeat Interval", c.HeartbeatInterval.String())
		addField("Heartbeat Timeout", c.HeartbeatTimeout.String())
		addField("Suspicion Timeout", c.SuspicionTimeout.String())
		addField("Rebuild Interval", c.RebuildInterval.String())

		// Seeds
		addSection("Seeds")
		if len(c.Seeds) == 0 {
			sb.WriteString("  (none, bootstrapping as first node)\n")
		}
		for i, seed := range c.Seeds {
			addField(strconv.Itoa(i), seed)
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	Transport              string
	Serializer             string
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Transport", c.Transport)
	addField("Serializer", c.Serializer)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	if c.ConnectionsPerEndpoint < 1 {
		addField("Connections Per Endpoint", "1")
	} else {
		addField("Connections Per Endpoint", strconv.Itoa(c.ConnectionsPerEndpoint))
	}

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
