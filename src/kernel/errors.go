package kernel

import "errors"

var (
	// ErrTransactionClosed rejects operations on a completed transaction.
	ErrTransactionClosed = errors.New("transaction has already been completed")

	// ErrTransactionClosing rejects re-entrant close.
	ErrTransactionClosing = errors.New("transaction is already being closed")

	// ErrRolledBackDespiteSuccess reports the conflicting-signal case:
	// Success and Failure were both called, failure wins, and the caller is
	// told explicitly that the happy path did not commit.
	ErrRolledBackDespiteSuccess = errors.New("transaction rolled back even if marked as successful")

	// ErrHookFailed reports a before-commit hook veto; the transaction is
	// rolled back and this is the commit's failure reason.
	ErrHookFailed = errors.New("transaction hook failed")

	// ErrSchemaAfterData rejects schema updates in a transaction that has
	// performed data updates.
	ErrSchemaAfterData = errors.New("cannot perform schema updates in a transaction that has performed data updates")

	// ErrDataAfterSchema rejects data updates in a transaction that has
	// performed schema updates.
	ErrDataAfterSchema = errors.New("cannot perform data updates in a transaction that has performed schema updates")

	// ErrReadOnlyDatabase rejects any write against a read-only database,
	// before any transaction state accumulates.
	ErrReadOnlyDatabase = errors.New("database is read-only")

	// ErrCouldNotRollback reports a rollback-path failure, such as a
	// constraint-backing index created in this transaction refusing to drop.
	ErrCouldNotRollback = errors.New("could not roll back transaction")

	// ErrTransactionTerminated rejects further work in a transaction that was
	// marked for termination; the transaction rolls back at close.
	ErrTransactionTerminated = errors.New("transaction marked for termination")

	// ErrStatementClosed rejects operations through a released statement.
	ErrStatementClosed = errors.New("statement has been closed")
)
