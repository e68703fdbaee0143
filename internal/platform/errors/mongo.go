package errors

// Mongo-specific helpers for mapping driver errors to project ErrorCode and retry semantics

import (
	"context"
	stderrs "errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// IsMongoDuplicateKey reports whether the error is a unique index violation
func IsMongoDuplicateKey(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(Root(err))
}

// MongoErrorCode maps a mongo driver error to an ErrorCode with an ok flag.
// !ok means err did not come from the driver; caller may fall back to generic handling
func MongoErrorCode(err error) (ErrorCode, bool) {
	if err == nil {
		return ErrorCodeUnknown, false
	}
	root := Root(err)
	switch {
	case mongo.IsDuplicateKeyError(root):
		return ErrorCodeDuplicateKey, true
	case mongo.IsTimeout(root), mongo.IsNetworkError(root):
		return ErrorCodeUnavailable, true
	case stderrs.Is(root, mongo.ErrNoDocuments):
		return ErrorCodeNotFound, true
	}
	var we mongo.WriteException
	if stderrs.As(root, &we) {
		return ErrorCodeDB, true
	}
	var ce mongo.CommandError
	if stderrs.As(root, &ce) {
		return ErrorCodeDB, true
	}
	return ErrorCodeUnknown, false
}

// FromMongo wraps a mongo error with a mapped ErrorCode and message.
// If err is nil, returns nil
func FromMongo(err error, msg string) error {
	if err == nil {
		return nil
	}
	if code, ok := MongoErrorCode(err); ok {
		return Wrap(err, code, msg)
	}
	return Wrap(err, ErrorCodeDB, msg)
}

// FromMongof is the formatted variant of FromMongo
func FromMongof(err error, format string, a ...any) error {
	if err == nil {
		return nil
	}
	return FromMongo(err, fmt.Sprintf(format, a...))
}

// IsMongoRetryable reports whether a mongo error represents a transient condition
// worth retrying. Local cancellations are never retryable here; higher layers decide
func IsMongoRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	root := Root(err)
	return mongo.IsTimeout(root) || mongo.IsNetworkError(root)
}
