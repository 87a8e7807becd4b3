// Command vacancy-bridge answers job seekers on WhatsApp (or Matrix) with an
// AI recruiter grounded on the live vacancy list.
package main

import (
	"os"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
