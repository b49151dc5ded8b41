// Copyright (C) 2017 ScyllaDB

package server

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/ringrepair/pkg/config"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/service/repair"
	"github.com/scylladb/ringrepair/pkg/util/cfgutil"
)

// DBConfig specifies backend database configuration options.
type DBConfig struct {
	Hosts                         []string      `yaml:"hosts"`
	SSL                           bool          `yaml:"ssl"`
	User                          string        `yaml:"user"`
	Password                      string        `yaml:"password"`
	LocalDC                       string        `yaml:"local_dc"`
	Keyspace                      string        `yaml:"keyspace"`
	MigrateTimeout                time.Duration `yaml:"migrate_timeout"`
	MigrateMaxWaitSchemaAgreement time.Duration `yaml:"migrate_max_wait_schema_agreement"`
	ReplicationFactor             int           `yaml:"replication_factor"`
	Timeout                       time.Duration `yaml:"timeout"`
	TokenAware                    bool          `yaml:"token_aware"`

	// InitAddr specifies address used to create keyspace and tables.
	InitAddr string
}

// SSLConfig specifies backend database SSL configuration options.
type SSLConfig struct {
	CertFile     string `yaml:"cert_file"`
	Validate     bool   `yaml:"validate"`
	UserCertFile string `yaml:"user_cert_file"`
	UserKeyFile  string `yaml:"user_key_file"`
}

// Config contains configuration structure for the repair server.
type Config struct {
	Prometheus string            `yaml:"prometheus"`
	Logger     config.LogConfig  `yaml:"logger"`
	Database   DBConfig          `yaml:"database"`
	SSL        SSLConfig         `yaml:"ssl"`
	NodeClient nodeclient.Config `yaml:"node_client"`
	Repair     repair.Config     `yaml:"repair"`
}

func DefaultConfig() Config {
	return Config{
		Prometheus: ":5090",
		Logger:     DefaultLogConfig(),
		Database: DBConfig{
			Hosts:                         []string{"127.0.0.1"},
			Keyspace:                      "ringrepair",
			MigrateTimeout:                30 * time.Second,
			MigrateMaxWaitSchemaAgreement: 5 * time.Minute,
			ReplicationFactor:             1,
			Timeout:                       600 * time.Millisecond,
			TokenAware:                    true,
		},
		SSL: SSLConfig{
			Validate: true,
		},
		NodeClient: nodeclient.DefaultConfig(),
		Repair:     repair.DefaultConfig(),
	}
}

// ParseConfigFiles takes list of configuration file paths and returns parsed
// config struct with merged configuration from all provided files.
func ParseConfigFiles(files []string) (Config, error) {
	c := DefaultConfig()
	return c, cfgutil.ParseYAML(&c, files...)
}

func (c Config) Validate() error {
	if len(c.Database.Hosts) == 0 {
		return errors.New("missing database.hosts")
	}
	if c.Database.Keyspace == "" {
		return errors.New("missing database.keyspace")
	}
	if c.Database.ReplicationFactor <= 0 {
		return errors.New("invalid database.replication_factor <= 0")
	}
	if err := c.NodeClient.Validate(); err != nil {
		return errors.Wrap(err, "node_client")
	}
	if err := c.Repair.Validate(); err != nil {
		return errors.Wrap(err, "repair")
	}
	return nil
}

// Obfuscate returns Config with secrets replaced with ******.
func Obfuscate(c Config) Config {
	c.Database.Password = strings.Repeat("*", len(c.Database.Password))
	return c
}
