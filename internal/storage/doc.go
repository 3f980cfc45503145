// Package storage is the subscriber-and-user store the notifier resolves
// recipients from and applies recovery mutations to.
//
// Drivers:
//   - sqlite: embedded database file (modernc.org/sqlite)
//   - postgres: shared database (pgx pool)
//   - file: JSON snapshot + append-only journal
//   - memory: the file driver without files (tests, dry runs)
//
// Every mutation is idempotent; the notifier does not de-duplicate calls.
package storage
