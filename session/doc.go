// Package session archives conversation transcripts.
//
// A Store keeps the persisted form of a transcript ([]core.Record) under a
// conversation ID. Three backends are provided: InMemoryStore for tests and
// single-process use, RedisStore on top of go-redis and SQLStore on top of
// gorm. Callers depend on the Store interface; only the wiring layer decides
// which implementation to build.
//
// A loaded archive can resume a group chat:
//
//	records, err := store.Load(ctx, id)
//	if err != nil {
//		return err
//	}
//	res, err := manager.Resume(ctx, records)
package session
