// Package database provides the connection pool for the event archive.
//
// The archive is optional: the agent runs without a database and simply
// skips archival when none is configured.
package database
