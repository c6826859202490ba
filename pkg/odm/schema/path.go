package schema

import (
	"strings"

	"github.com/spf13/cast"

	odmerrors "firestore-odm/pkg/errors"
)

// PathSeparator separates collection and document segments.
const PathSeparator = "/"

// DocID concatenates the stringified id field values of id in declared order.
// No delimiter is inserted between fields.
func DocID(s Schema, id ID) (string, error) {
	var b strings.Builder
	for _, f := range s.IdentityFields() {
		v, ok := id[f]
		if !ok {
			return "", missingField(s, f)
		}
		seg, err := idSegment(s, f, v)
		if err != nil {
			return "", err
		}
		b.WriteString(seg)
	}
	if b.Len() == 0 {
		return "", odmerrors.NewValidationError("document id must not be empty").
			WithCause(odmerrors.ErrInvalidID).
			WithDetail("collection", s.CollectionName())
	}
	return b.String(), nil
}

// DocPath returns CollectionPath(s, id) + "/" + DocID(s, id).
func DocPath(s Schema, id ID) (string, error) {
	col, err := CollectionPath(s, id)
	if err != nil {
		return "", err
	}
	docID, err := DocID(s, id)
	if err != nil {
		return "", err
	}
	return col + PathSeparator + docID, nil
}

// CollectionPath resolves the path of the collection holding the documents
// of s. Root collections resolve to their name; subcollections resolve
// through the parent's document path, recursively.
func CollectionPath(s Schema, parentID ID) (string, error) {
	parent := s.ParentSchema()
	if parent == nil {
		return s.CollectionName(), nil
	}

	keys := identityKeys(parent)
	fields := s.ParentFields()
	if len(keys) != len(fields) {
		return "", odmerrors.NewValidationError("parent id fields do not match the parent's identity fields").
			WithCause(odmerrors.ErrInvalidSchema).
			WithDetail("collection", s.CollectionName())
	}

	pid := make(ID, len(keys))
	for i, f := range fields {
		v, ok := parentID[f]
		if !ok {
			return "", missingField(s, f)
		}
		pid[keys[i]] = v
	}

	parentPath, err := DocPath(parent, pid)
	if err != nil {
		return "", err
	}
	return parentPath + PathSeparator + s.CollectionName(), nil
}

// ParsePath splits a document path into the path of its collection, the
// collection's name and the document id.
func ParsePath(docPath string) (collectionPath, collectionName, docID string, err error) {
	segments := strings.Split(strings.Trim(docPath, PathSeparator), PathSeparator)
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", "", odmerrors.NewValidationError("not a document path").
			WithCause(odmerrors.ErrInvalidPath).
			WithDetail("path", docPath)
	}
	for _, seg := range segments {
		if seg == "" {
			return "", "", "", odmerrors.NewValidationError("empty path segment").
				WithCause(odmerrors.ErrInvalidPath).
				WithDetail("path", docPath)
		}
	}
	n := len(segments)
	return strings.Join(segments[:n-1], PathSeparator), segments[n-2], segments[n-1], nil
}

// ParentPath returns the document path owning collectionPath, or "" for a root collection.
func ParentPath(collectionPath string) string {
	i := strings.LastIndex(collectionPath, PathSeparator)
	if i < 0 {
		return ""
	}
	return collectionPath[:i]
}

func idSegment(s Schema, field string, v any) (string, error) {
	invalid := func(msg string) error {
		return odmerrors.NewValidationError(msg).
			WithCause(odmerrors.ErrInvalidID).
			WithDetail("collection", s.CollectionName()).
			WithDetail("field", field)
	}

	if v == nil {
		return "", invalid("id field must not be nil")
	}
	str, err := cast.ToStringE(v)
	if err != nil {
		return "", invalid("id field must be a scalar value")
	}
	if str == "" {
		return "", invalid("id field must not be empty")
	}
	if strings.Contains(str, PathSeparator) {
		return "", invalid("id field must not contain '/'")
	}
	return str, nil
}
