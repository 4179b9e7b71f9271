// Package journal persists resolved deliveries and session lifecycle events
// to SQLite so an operator can look back at what was sent and how it ended.
//
// The Sink plugs into the session manager's event stream. It never blocks
// the manager: events are queued to a single writer goroutine and dropped
// (and counted) when the queue is full.
//
// Usage:
//
//	repo := journal.NewSQLiteRepository(db.DB)
//	sink := journal.NewSink(repo, logger, 0)
//	defer sink.Close()
//
//	mgr := session.NewManager(cfg, dialer, session.MultiSink{console, sink})
//
//	result, err := repo.ListDeliveries(ctx, journal.Filter{Status: "failed", Limit: 20})
package journal
