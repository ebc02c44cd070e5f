package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/domain/shared/errs"
)

// IdempotentCommand carries a client supplied key. ResultPrototype returns a
// pointer of the handler's result type for decoding replays.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	ResultPrototype() any
}

// IdempotencyRecord is the remembered outcome of one keyed command: either
// an encoded result or an error kind and reason.
type IdempotencyRecord struct {
	Key        string
	Payload    []byte
	ErrorKind  string
	Error      string
	OccurredAt time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONResultCodec) Decode(data []byte, out any) error { return json.Unmarshal(data, out) }

var errMissingPrototype = errs.Internal("idempotent command has no result prototype", nil)

// Idempotency answers a repeated key with the first outcome. Only outcomes a
// retry could not change are remembered: results and validation, not found
// or conflict failures. Anything else stays retryable under the same key.
func Idempotency(store IdempotencyStore, codec ResultCodec) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			keyed, ok := cmd.(IdempotentCommand)
			if !ok || keyed.IdempotencyKey() == "" {
				return next.Dispatch(ctx, cmd)
			}
			key := cmd.Key() + ":" + keyed.IdempotencyKey()

			prior, seen, err := store.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if seen {
				return replay(prior, keyed.ResultPrototype(), codec)
			}

			result, runErr := next.Dispatch(ctx, cmd)
			rec, remember, err := outcome(key, result, runErr, codec)
			if err != nil {
				return nil, err
			}
			if remember {
				if saveErr := store.Save(ctx, rec); saveErr != nil {
					return nil, errors.Join(runErr, saveErr)
				}
			}
			if runErr != nil {
				return nil, runErr
			}
			return result, nil
		})
	}
}

func replay(rec IdempotencyRecord, proto any, codec ResultCodec) (any, error) {
	if rec.Error != "" {
		return nil, &errs.Error{Kind: errs.Kind(rec.ErrorKind), Reason: rec.Error}
	}
	if proto == nil {
		return nil, errMissingPrototype
	}
	if len(rec.Payload) == 0 {
		return proto, nil
	}
	if err := codec.Decode(rec.Payload, proto); err != nil {
		return nil, errs.Corrupt("decode remembered result", err)
	}
	return proto, nil
}

func outcome(key string, result any, runErr error, codec ResultCodec) (IdempotencyRecord, bool, error) {
	rec := IdempotencyRecord{Key: key, OccurredAt: time.Now().UTC()}
	if runErr != nil {
		switch errs.KindOf(runErr) {
		case errs.KindValidation, errs.KindNotFound, errs.KindConflict:
			rec.ErrorKind = string(errs.KindOf(runErr))
			rec.Error = errs.ReasonOf(runErr)
			return rec, true, nil
		}
		return rec, false, nil
	}
	if result != nil {
		payload, err := codec.Encode(result)
		if err != nil {
			return rec, false, err
		}
		rec.Payload = payload
	}
	return rec, true, nil
}
