package schema

import (
	"fmt"
	"slices"
	"strings"

	odmerrors "firestore-odm/pkg/errors"
)

// Constants for validation
const (
	MaxFieldPathDepth  = 100  // maximum nesting depth
	MaxFieldNameLength = 1500 // maximum field name length in bytes
)

// FieldPath is a validated dot-separated path into a document, e.g. "address.city".
type FieldPath struct {
	segments []string
	raw      string
}

// NewFieldPath parses and validates a dot-separated field path.
func NewFieldPath(path string) (FieldPath, error) {
	invalid := func(reason string) error {
		return odmerrors.NewValidationError(fmt.Sprintf("invalid field path %q: %s", path, reason)).
			WithCause(odmerrors.ErrInvalidFieldPath)
	}

	if path == "" {
		return FieldPath{}, invalid("empty")
	}
	segments := strings.Split(path, ".")
	if len(segments) > MaxFieldPathDepth {
		return FieldPath{}, invalid("too deep")
	}
	for _, segment := range segments {
		if !isValidFieldName(segment) {
			return FieldPath{}, invalid(fmt.Sprintf("bad segment %q", segment))
		}
	}
	return FieldPath{segments: segments, raw: path}, nil
}

// MustFieldPath creates a field path or panics if invalid.
// Use only with compile-time known valid paths.
func MustFieldPath(path string) FieldPath {
	fp, err := NewFieldPath(path)
	if err != nil {
		panic(err)
	}
	return fp
}

// String returns the original dot-separated path
func (fp FieldPath) String() string {
	return fp.raw
}

// Segments returns a copy of the individual path segments
func (fp FieldPath) Segments() []string {
	return append([]string{}, fp.segments...)
}

// Root returns the first segment
func (fp FieldPath) Root() string {
	if len(fp.segments) == 0 {
		return ""
	}
	return fp.segments[0]
}

// IsNested reports whether the path has more than one segment
func (fp FieldPath) IsNested() bool {
	return len(fp.segments) > 1
}

// Lookup resolves the path inside data, descending through nested maps.
func (fp FieldPath) Lookup(data Data) (any, bool) {
	var cur any = data
	for _, seg := range fp.segments {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ValidateField checks path against s: it must be a well-formed field path
// and, when s declares its fields, its root must be one of them.
func ValidateField(s Schema, path string) (FieldPath, error) {
	fp, err := NewFieldPath(path)
	if err != nil {
		return FieldPath{}, err
	}
	known := s.FieldNames()
	if len(known) > 0 && !slices.Contains(known, fp.Root()) {
		return FieldPath{}, odmerrors.NewValidationError(fmt.Sprintf("unknown field %q in collection %s", path, s.CollectionName())).
			WithCause(odmerrors.ErrInvalidFieldPath).
			WithDetail("collection", s.CollectionName())
	}
	return fp, nil
}

// isValidFieldName checks a single segment
func isValidFieldName(name string) bool {
	if name == "" || len(name) > MaxFieldNameLength {
		return false
	}
	if strings.ContainsAny(name, "/[]*`") {
		return false
	}
	return !strings.HasPrefix(name, "__")
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case ID:
		return m, true
	default:
		return nil, false
	}
}
