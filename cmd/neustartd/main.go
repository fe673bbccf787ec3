// Command neustartd monitors host reachability and runs coordinated fleet
// restarts.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
