// Copyright (C) 2017 ScyllaDB

package main

import (
	"bytes"
	"context"
	"text/template"
	"time"

	"github.com/gocql/gocql"
	"github.com/scylladb/gocqlx/v2"
	"github.com/scylladb/gocqlx/v2/migrate"
	config "github.com/scylladb/ringrepair/pkg/config/server"
	"github.com/scylladb/ringrepair/schema"
)

func keyspaceExists(c config.Config) (bool, error) {
	session, err := gocqlClusterConfigForDBInit(c).CreateSession()
	if err != nil {
		return false, err
	}
	defer session.Close()

	var cnt int
	q := session.Query("SELECT COUNT(keyspace_name) FROM system_schema.keyspaces WHERE keyspace_name = ?").Bind(c.Database.Keyspace)
	return cnt == 1, q.Scan(&cnt)
}

func createKeyspace(c config.Config) error {
	session, err := gocqlClusterConfigForDBInit(c).CreateSession()
	if err != nil {
		return err
	}
	defer session.Close()

	// RF=1 with more nodes loses data when a node is down
	if c.Database.ReplicationFactor == 1 {
		var peers int
		q := session.Query("SELECT COUNT(*) FROM system.peers")
		if err := q.Scan(&peers); err != nil {
			return err
		}
		if peers > 0 {
			c.Database.ReplicationFactor = min(peers+1, 3)
		}
	}

	return session.Query(mustEvaluateCreateKeyspaceStmt(c)).Exec()
}

const createKeyspaceStmt = "CREATE KEYSPACE {{.Keyspace}} WITH replication = {'class': 'SimpleStrategy', 'replication_factor': {{.ReplicationFactor}}}"

func mustEvaluateCreateKeyspaceStmt(c config.Config) string {
	t := template.New("")
	if _, err := t.Parse(createKeyspaceStmt); err != nil {
		panic(err)
	}

	buf := new(bytes.Buffer)
	if err := t.Execute(buf, c.Database); err != nil {
		panic(err)
	}

	return buf.String()
}

func migrateSchema(c config.Config) error {
	cluster := gocqlClusterConfigForDBInit(c)
	cluster.Keyspace = c.Database.Keyspace

	session, err := gocqlx.WrapSession(cluster.CreateSession())
	if err != nil {
		return err
	}
	defer session.Close()

	return migrate.FromFS(context.Background(), session, schema.Files)
}

func gocqlClusterConfigForDBInit(c config.Config) *gocql.ClusterConfig {
	cluster := gocqlClusterConfig(c)
	cluster.Keyspace = "system"
	cluster.Timeout = c.Database.MigrateTimeout
	cluster.MaxWaitSchemaAgreement = c.Database.MigrateMaxWaitSchemaAgreement

	// Schema changes from many hosts may conflict
	cluster.Hosts = []string{c.Database.InitAddr}
	cluster.DisableInitialHostLookup = true

	return cluster
}

func gocqlClusterConfig(c config.Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.Database.Hosts...)

	// Single node deployments use ONE, multi-dc deployments use LOCAL_QUORUM,
	// otherwise QUORUM.
	switch {
	case c.Database.LocalDC != "":
		cluster.Consistency = gocql.LocalQuorum
	case c.Database.ReplicationFactor == 1:
		cluster.Consistency = gocql.One
	default:
		cluster.Consistency = gocql.Quorum
	}

	cluster.Keyspace = c.Database.Keyspace
	cluster.Timeout = c.Database.Timeout
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 5,
		Min:        time.Second,
		Max:        10 * time.Second,
	}

	// Never mark the only host as down
	if c.Database.ReplicationFactor == 1 {
		cluster.ConvictionPolicy = neverConvictionPolicy{}
	}

	if c.Database.SSL {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 c.SSL.CertFile,
			CertPath:               c.SSL.UserCertFile,
			KeyPath:                c.SSL.UserKeyFile,
			EnableHostVerification: c.SSL.Validate,
		}
	}

	if c.Database.User != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.Database.User,
			Password: c.Database.Password,
		}
	}

	if c.Database.TokenAware {
		fallback := gocql.RoundRobinHostPolicy()
		if c.Database.LocalDC != "" {
			fallback = gocql.DCAwareRoundRobinPolicy(c.Database.LocalDC)
		}
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(fallback)
	}

	return cluster
}

type neverConvictionPolicy struct{}

func (e neverConvictionPolicy) AddFailure(_ error, _ *gocql.HostInfo) bool {
	return false
}

func (e neverConvictionPolicy) Reset(_ *gocql.HostInfo) {}
