// Copyright (C) 2017 ScyllaDB

package main

import (
	"fmt"
	"os"
	"time"
)

var version = "Snapshot"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(rootCmd.OutOrStderr(), "\nSTARTUP ERROR: %s\n\n", err)

		// Last log messages of failed processes may be lost by systemd, wait
		// a bit over a second to make them visible in systemctl status.
		time.Sleep(1100 * time.Millisecond)

		os.Exit(1)
	}

	os.Exit(0)
}
