// Copyright (C) 2017 ScyllaDB

package table

import "github.com/scylladb/gocqlx/v2/table"

// Table models
var (
	Cluster = table.New(table.Metadata{
		Name: "cluster",
		Columns: []string{
			"name",
			"seed_hosts",
			"partitioner",
		},
		PartKey: []string{"name"},
	})

	RepairUnit = table.New(table.Metadata{
		Name: "repair_unit",
		Columns: []string{
			"id",
			"cluster_name",
			"keyspace_name",
			"tables",
			"excluded_tables",
			"nodes",
			"datacenters",
			"incremental",
			"thread_count",
		},
		PartKey: []string{"id"},
	})

	RepairSchedule = table.New(table.Metadata{
		Name: "repair_schedule",
		Columns: []string{
			"id",
			"unit_id",
			"cron",
			"enabled",
			"intensity",
			"segment_count",
			"parallelism",
			"owner",
			"next_activation",
			"last_run_id",
		},
		PartKey: []string{"id"},
	})

	RepairRun = table.New(table.Metadata{
		Name: "repair_run",
		Columns: []string{
			"id",
			"cluster_name",
			"unit_id",
			"state",
			"intensity",
			"segment_count",
			"parallelism",
			"cause",
			"owner",
			"creation_time",
			"start_time",
			"end_time",
			"pause_time",
		},
		PartKey: []string{"id"},
	})

	RepairSegment = table.New(table.Metadata{
		Name: "repair_segment",
		Columns: []string{
			"run_id",
			"start_token",
			"id",
			"unit_id",
			"token_ranges",
			"replicas",
			"state",
			"fail_count",
			"coordinator_host",
			"start_time",
			"end_time",
		},
		PartKey: []string{"run_id"},
		SortKey: []string{"start_token"},
	})
)
