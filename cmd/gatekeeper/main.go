// Gatekeeper is a distributed, tier-aware admission control service.
//
// It decides for every request whether a client may proceed, honoring a
// per-tier token bucket shared by every instance through Redis (or SQLite or
// memory for single-node use), and degrades to a configurable failure policy
// when the shared store is unavailable.
//
// Usage:
//
//	# Start the server
//	gatekeeper run --config gatekeeper.yaml
//
//	# Validate configuration and print the tier table
//	gatekeeper validate
//
//	# Check a client once against the configured store
//	gatekeeper check --client acme --tier premium
//
//	# Read a client's violation count for a day
//	gatekeeper violations acme --day 2026-03-02
//
//	# Drive concurrent checks against the configured store
//	gatekeeper bench --clients 10 --requests 10000
package main

import "os"

func main() {
	os.Exit(Execute())
}
