// Package retention removes expired bucket and violation state from stores
// that have no native key expiry (SQLite, memory).
//
// A Pruner calls the store's Cleanup with the current time; a Scheduler runs
// the Pruner on a cron schedule:
//
//	pruner := retention.NewPruner(sqliteStore)
//	scheduler := retention.NewScheduler(pruner, "*/5 * * * *")
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
//
// Redis expires keys itself and needs no scheduler.
package retention
