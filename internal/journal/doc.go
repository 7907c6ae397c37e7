// Package journal persists an audit trail of redemption attempts in SQLite.
//
// Every accepted scan, redemption outcome, duplicate, and rejected payload is
// appended as an Entry so operators can review what a scanner did after the
// fact. The journal is write-mostly and never consulted for duplicate
// suppression: that decision belongs to the in-memory session history.
package journal
