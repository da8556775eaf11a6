package store

import "sync"

// writeMutex serializes write transactions against the SQLite connection
// pool. SQLite allows only one writer at a time; contending for the file
// lock at the driver level works but surfaces as noisy "database is
// locked" errors under load, so writers queue in-process first.
var writeMutex sync.Mutex
