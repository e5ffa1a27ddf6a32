// Package stores provides the build ledger: an SQLite database recording every
// mutating convergo operation (runs), the manager actions each one performed
// (steps), free-form events, and an audit trail of pointer moves and forced
// unlocks. The schema is applied from embedded migrations.
package stores
