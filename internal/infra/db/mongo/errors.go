package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"campusmarket/internal/domain/shared/errs"
)

const (
	labelTransientTxn  = "TransientTransactionError"
	labelUnknownCommit = "UnknownTransactionCommitResult"
)

// abortedTxn marks a transaction the server aborted, typically on a write
// conflict. The whole unit can run again.
type abortedTxn struct{ err error }

func (e abortedTxn) Error() string   { return e.err.Error() }
func (e abortedTxn) Unwrap() error   { return e.err }
func (e abortedTxn) RetryUnit() bool { return true }

// classify maps driver errors onto the error taxonomy. Callers translate
// mongo.ErrNoDocuments themselves when they have a more specific not-found error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var kinded *errs.Error
	if errors.As(err, &kinded) {
		return err
	}
	var srv mongo.ServerError
	if errors.As(err, &srv) && srv.HasErrorLabel(labelTransientTxn) {
		return errs.Transient(op, abortedTxn{err})
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return &errs.Error{Kind: errs.KindNotFound, Reason: op + ": document not found", Err: err}
	case mongo.IsDuplicateKeyError(err):
		return &errs.Error{Kind: errs.KindConflict, Reason: op + ": duplicate key", Err: err}
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return errs.Transient(op, err)
	}
	return fmt.Errorf("mongo %s: %w", op, err)
}

func corrupt(collection, id string, err error) error {
	return errs.Corrupt(fmt.Sprintf("malformed %s document %q", collection, id), err)
}
