// Package abuse tracks rate-limit violations and raises abuse alerts.
//
// Every rejection increments a day-scoped counter in the shared store under
// the key {prefix}:viol:{client}:{YYYY-MM-DD} (UTC day) with a multi-day TTL.
// Once the count is at or above the threshold, the tracker sets a marker key
// {prefix}:viol:{client}:{YYYY-MM-DD}:alerted with MarkOnce. Only the call
// that creates the marker raises the alert, so each client alerts at most
// once per day across all instances. A threshold increment whose reply was
// lost, or a threshold lowered by a reload, still alerts on the next
// rejection.
//
// Tracking is advisory. It never blocks or rejects traffic. The coordinator
// hands rejections to Notify, which queues them for a small worker pool and
// drops them when the queue is full.
//
//	tracker := abuse.New(abuse.Config{DailyThreshold: 100}, store,
//	    abuse.WithSink(abuse.NewLogSink(logger)))
//	defer tracker.Close()
//
//	tracker.Notify(abuse.Violation{ClientID: "c1", Tier: cfg, At: time.Now()})
package abuse
