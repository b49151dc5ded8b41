// Copyright (C) 2017 ScyllaDB

package server_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/scylladb/go-log"
	"github.com/scylladb/ringrepair/pkg/config"
	"github.com/scylladb/ringrepair/pkg/config/server"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/service/repair"
	"go.uber.org/zap"
)

var configCmpOpts = cmp.Options{
	cmpopts.IgnoreTypes(zap.AtomicLevel{}),
}

func TestConfigModification(t *testing.T) {
	t.Parallel()

	c, err := server.ParseConfigFiles([]string{"testdata/ringrepair.yaml"})
	if err != nil {
		t.Fatal(err)
	}

	golden := server.Config{
		Prometheus: "127.0.0.1:9090",
		Logger: config.LogConfig{
			Config: log.Config{
				Mode:     log.StderrMode,
				Encoding: log.JSONEncoding,
			},
			Development: true,
		},
		Database: server.DBConfig{
			Hosts:                         []string{"172.16.1.10", "172.16.1.20"},
			SSL:                           true,
			User:                          "user",
			Password:                      "password",
			LocalDC:                       "local",
			Keyspace:                      "ringrepair",
			MigrateTimeout:                time.Minute,
			MigrateMaxWaitSchemaAgreement: 10 * time.Minute,
			ReplicationFactor:             3,
			Timeout:                       time.Second,
			TokenAware:                    false,
		},
		SSL: server.SSLConfig{
			CertFile:     "ca.pem",
			Validate:     false,
			UserCertFile: "ssl.cert",
			UserKeyFile:  "ssl.key",
		},
		NodeClient: nodeclient.Config{
			Port:               "10001",
			Timeout:            5 * time.Second,
			StatusPollInterval: 2 * time.Second,
			Backoff: nodeclient.BackoffConfig{
				WaitMin:    2 * time.Second,
				WaitMax:    20 * time.Second,
				MaxRetries: 5,
				Multiplier: 3,
			},
		},
		Repair: repair.Config{
			HangingRepairTimeout:  time.Hour,
			RepairLoopInterval:    5 * time.Second,
			SchedulerTickInterval: time.Minute,
			MaxSegmentFailures:    5,
			MaxParallelRuns:       2,
			ConnectTimeout:        10 * time.Second,
			ConnectBackoff: repair.BackoffConfig{
				WaitMin: time.Second,
				WaitMax: time.Minute,
			},
			DefaultIntensity: 0.5,
		},
	}

	if diff := cmp.Diff(c, golden, configCmpOpts); diff != "" {
		t.Fatal(diff)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	c, err := server.ParseConfigFiles([]string{"../../../dist/etc/ringrepair.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	e := server.DefaultConfig()

	if diff := cmp.Diff(c, e, configCmpOpts); diff != "" {
		t.Fatal(diff)
	}
	if err := e.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c, err := server.ParseConfigFiles([]string{"testdata/invalid.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() expected error")
	}

	c = server.DefaultConfig()
	c.Database.Hosts = nil
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() expected error")
	}
}

func TestObfuscate(t *testing.T) {
	t.Parallel()

	c := server.DefaultConfig()
	c.Database.Password = "secret"
	if p := server.Obfuscate(c).Database.Password; p != "******" {
		t.Fatalf("Obfuscate() password %q", p)
	}
	if c.Database.Password != "secret" {
		t.Fatal("Obfuscate() modified input")
	}
}
