// Copyright (C) 2017 ScyllaDB

package nodeclient

import (
	"strings"

	"github.com/hashicorp/go-version"
)

var rangeMergingConstraint = version.MustConstraints(version.NewConstraint(">= 2.2"))

// SupportsRangeMerging returns true if nodes of the given release version
// accept many token ranges in a single repair job.
// Unparsable versions are treated as not supporting it.
func SupportsRangeMerging(v string) bool {
	// Drop build metadata such as "-0.20240101.abcdef"
	if i := strings.IndexAny(v, "-~"); i > 0 {
		v = v[:i]
	}
	ver, err := version.NewVersion(v)
	if err != nil {
		return false
	}
	return rangeMergingConstraint.Check(ver.Core())
}
