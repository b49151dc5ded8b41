// Copyright (C) 2017 ScyllaDB

package main

import (
	"testing"

	"github.com/gocql/gocql"
	config "github.com/scylladb/ringrepair/pkg/config/server"
)

func TestMustEvaluateCreateKeyspaceStmt(t *testing.T) {
	t.Parallel()

	c := config.DefaultConfig()
	c.Database.ReplicationFactor = 3

	golden := "CREATE KEYSPACE ringrepair WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 3}"
	if s := mustEvaluateCreateKeyspaceStmt(c); s != golden {
		t.Fatalf("mustEvaluateCreateKeyspaceStmt() = %s, expected %s", s, golden)
	}
}

func TestGocqlClusterConfigConsistency(t *testing.T) {
	t.Parallel()

	table := []struct {
		Name        string
		LocalDC     string
		RF          int
		Consistency gocql.Consistency
	}{
		{
			Name:        "single node",
			RF:          1,
			Consistency: gocql.One,
		},
		{
			Name:        "cluster",
			RF:          3,
			Consistency: gocql.Quorum,
		},
		{
			Name:        "multi dc",
			LocalDC:     "dc1",
			RF:          3,
			Consistency: gocql.LocalQuorum,
		},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			c := config.DefaultConfig()
			c.Database.LocalDC = test.LocalDC
			c.Database.ReplicationFactor = test.RF

			if cl := gocqlClusterConfig(c); cl.Consistency != test.Consistency {
				t.Fatalf("Consistency = %s, expected %s", cl.Consistency, test.Consistency)
			}
		})
	}
}

func TestGocqlClusterConfigForDBInit(t *testing.T) {
	t.Parallel()

	c := config.DefaultConfig()
	c.Database.InitAddr = "10.0.0.1:9042"

	cl := gocqlClusterConfigForDBInit(c)
	if len(cl.Hosts) != 1 || cl.Hosts[0] != c.Database.InitAddr {
		t.Fatalf("Hosts = %v", cl.Hosts)
	}
	if cl.Keyspace != "system" || !cl.DisableInitialHostLookup {
		t.Fatalf("Keyspace = %s DisableInitialHostLookup = %v", cl.Keyspace, cl.DisableInitialHostLookup)
	}
}
