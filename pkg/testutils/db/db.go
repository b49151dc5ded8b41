// Copyright (C) 2017 ScyllaDB

package db

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/scylladb/gocqlx/v2"
	"github.com/scylladb/gocqlx/v2/migrate"
	"github.com/scylladb/gocqlx/v2/qb"
	"github.com/scylladb/ringrepair/schema"
)

var (
	flagCluster  = flag.String("cluster", "127.0.0.1", "a comma-separated list of host:port tuples of database hosts")
	flagTimeout  = flag.Duration("gocql.timeout", 10*time.Second, "sets the connection `timeout` for all operations")
	flagUser     = flag.String("user", "", "CQL user")
	flagPassword = flag.String("password", "", "CQL password")
)

const testKeyspace = "test_ringrepair"

var initOnce sync.Once

// CreateSession recreates the test keyspace, migrates schema and returns
// a new session.
func CreateSession(tb testing.TB) gocqlx.Session {
	tb.Helper()

	cluster := createCluster()
	initOnce.Do(func() {
		createTestKeyspace(tb, cluster, testKeyspace)
	})

	c := *cluster
	c.Keyspace = testKeyspace
	session, err := gocqlx.WrapSession(c.CreateSession())
	if err != nil {
		tb.Fatal("createSession:", err)
	}
	if err := migrate.FromFS(context.Background(), session, schema.Files); err != nil {
		tb.Fatal("migrate:", err)
	}
	return session
}

func createCluster() *gocql.ClusterConfig {
	if !flag.Parsed() {
		flag.Parse()
	}

	cluster := gocql.NewCluster(strings.Split(*flagCluster, ",")...)
	cluster.Timeout = *flagTimeout
	cluster.Consistency = gocql.Quorum
	cluster.MaxWaitSchemaAgreement = 2 * time.Minute
	if *flagUser != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: *flagUser,
			Password: *flagPassword,
		}
	}
	return cluster
}

func createTestKeyspace(tb testing.TB, cluster *gocql.ClusterConfig, keyspace string) {
	tb.Helper()

	c := *cluster
	c.Keyspace = "system"
	session, err := gocqlx.WrapSession(c.CreateSession())
	if err != nil {
		tb.Fatal(err)
	}
	defer session.Close()

	dropAllKeyspaces(tb, session)

	ExecStmt(tb, session, fmt.Sprintf(`CREATE KEYSPACE %s
	WITH replication = {
		'class' : 'NetworkTopologyStrategy',
		'replication_factor' : %d
	}`, keyspace, 1))
}

func dropAllKeyspaces(tb testing.TB, session gocqlx.Session) {
	tb.Helper()

	q := qb.Select("system_schema.keyspaces").Columns("keyspace_name").Query(session)
	defer q.Release()

	var all []string
	if err := q.Select(&all); err != nil {
		tb.Fatal(err)
	}

	for _, k := range all {
		if !strings.HasPrefix(k, "system") {
			ExecStmt(tb, session, fmt.Sprintf("DROP KEYSPACE IF EXISTS %q", k))
		}
	}
}

// ExecStmt executes given statement.
func ExecStmt(tb testing.TB, session gocqlx.Session, stmt string) {
	tb.Helper()

	if err := session.ExecStmt(stmt); err != nil {
		tb.Fatal("exec failed", stmt, err)
	}
}
