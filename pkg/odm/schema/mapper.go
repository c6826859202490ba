package schema

import (
	"fmt"
	"time"

	"github.com/spf13/cast"

	odmerrors "firestore-odm/pkg/errors"
)

// Mapper converts between the application model T and its wire form.
//
// FromDB must accept any document the backend returns for the collection.
// ToDB must emit the id and parent id fields alongside the payload; the
// repository derives document paths from them.
type Mapper[T any] struct {
	FromDB func(Data) (T, error)
	ToDB   func(T) (Data, error)
}

// FieldValue represents special server-side values like ServerTimestamp.
type FieldValue string

const (
	// ServerTimestamp is a sentinel value to set a field to the server's commit time.
	ServerTimestamp FieldValue = "ServerTimestamp"
)

// timeLike is satisfied by backend timestamp types such as primitive.DateTime.
type timeLike interface {
	Time() time.Time
}

// TimeValue widens a stored point-in-time value to time.Time. It accepts
// time.Time, *time.Time, backend timestamp types exposing Time(), RFC3339
// strings and unix milliseconds.
func TimeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return *t, nil
	case timeLike:
		return t.Time(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, odmerrors.NewValidationError(fmt.Sprintf("not a timestamp: %q", t)).WithCause(err)
		}
		return parsed, nil
	case nil:
		return time.Time{}, nil
	}

	millis, err := cast.ToInt64E(v)
	if err != nil {
		return time.Time{}, odmerrors.NewValidationError(fmt.Sprintf("not a timestamp: %T", v)).WithCause(err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// ReplaceSentinels returns a deep copy of data in which every FieldValue
// sentinel has been replaced with fn's result.
func ReplaceSentinels(data Data, fn func(FieldValue) any) Data {
	if data == nil {
		return nil
	}
	out := make(Data, len(data))
	for k, v := range data {
		out[k] = replaceValue(v, fn)
	}
	return out
}

func replaceValue(v any, fn func(FieldValue) any) any {
	switch t := v.(type) {
	case FieldValue:
		return fn(t)
	case map[string]any:
		return ReplaceSentinels(t, fn)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = replaceValue(e, fn)
		}
		return out
	default:
		return v
	}
}
