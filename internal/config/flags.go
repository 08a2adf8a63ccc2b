package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const DefaultPath = "internal/config/config.yaml"

// Flags are the command line overrides shared by the server and the poller.
type Flags struct {
	Path           string
	InstanceID     string
	PartitionID    int
	PartitionCount int
	RunPoller      bool

	fs *pflag.FlagSet
}

// RegisterFlags binds the override flags on fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.Path, "config", "c", DefaultPath, "path to the yaml config file")
	fs.StringVar(&f.InstanceID, "instance-id", "", "claimant name written to claimed_by")
	fs.IntVar(&f.PartitionID, "partition-id", 0, "partition served by this instance")
	fs.IntVar(&f.PartitionCount, "partition-count", 0, "number of partitions, 0 serves every row")
	fs.BoolVar(&f.RunPoller, "run-poller", false, "run the outbox scheduler inside the server")
	return f
}

// Load reads f.Path and applies every flag that was set explicitly.
func (f *Flags) Load() (*Config, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return nil, err
	}
	if err := f.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overlays explicitly set flags on cfg and validates the result.
func (f *Flags) Apply(cfg *Config) error {
	if f.fs.Changed("instance-id") {
		cfg.Outbox.InstanceID = f.InstanceID
	}
	if f.fs.Changed("partition-id") {
		cfg.Outbox.PartitionID = f.PartitionID
	}
	if f.fs.Changed("partition-count") {
		cfg.Outbox.PartitionCount = f.PartitionCount
	}
	if f.fs.Changed("run-poller") {
		cfg.Server.RunPoller = f.RunPoller
	}
	if cfg.Outbox.InstanceID == "" {
		cfg.Outbox.InstanceID = defaultInstanceID()
	}
	return cfg.Validate()
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "outbox"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
