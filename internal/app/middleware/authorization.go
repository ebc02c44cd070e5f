package middleware

import (
	"context"
)

// Authorizer checks that the viewer carried by a query may read what it
// names. Commands authorize inside their handlers, against the same unit of
// work that performs the write.
type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return guardQueries(a.Authorize)
}
