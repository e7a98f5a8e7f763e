// Package sqlite persists peak reports in a SQLite database.
//
// Every tracker run gets a row in runs keyed by a UUID; every non-zero peak
// of every epoch becomes a row in peaks with its time, frequency, the epoch's
// peak count, its rank, position and weight. The schema is managed with
// golang-migrate from migrations embedded in the binary.
package sqlite
