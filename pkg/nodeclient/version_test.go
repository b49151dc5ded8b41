// Copyright (C) 2017 ScyllaDB

package nodeclient

import "testing"

func TestSupportsRangeMerging(t *testing.T) {
	t.Parallel()

	table := []struct {
		Version string
		Golden  bool
	}{
		{Version: "2.1.17", Golden: false},
		{Version: "2.2.10", Golden: true},
		{Version: "2.2.17", Golden: true},
		{Version: "3.11.4", Golden: true},
		{Version: "5.4.0-0.20240101.abcdef", Golden: true},
		{Version: "foo", Golden: false},
		{Version: "", Golden: false},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Version, func(t *testing.T) {
			t.Parallel()

			if v := SupportsRangeMerging(test.Version); v != test.Golden {
				t.Fatalf("SupportsRangeMerging(%q) = %v, expected %v", test.Version, v, test.Golden)
			}
		})
	}
}
