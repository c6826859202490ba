package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"firestore-odm/pkg/odm/schema"
)

// storedDocument is the layout of one document in the backing collection.
type storedDocument struct {
	Path       string    `bson:"_id"`
	Collection string    `bson:"collection"`
	Parent     string    `bson:"parent"`
	DocID      string    `bson:"doc_id"`
	Data       bson.M    `bson:"data"`
	UpdateTime time.Time `bson:"update_time"`
}

func newStoredDocument(path string, data schema.Data, now time.Time) (storedDocument, error) {
	collectionPath, name, id, err := schema.ParsePath(path)
	if err != nil {
		return storedDocument{}, err
	}
	data = schema.ReplaceSentinels(data, func(schema.FieldValue) any { return now })
	return storedDocument{
		Path:       path,
		Collection: name,
		Parent:     collectionPath,
		DocID:      id,
		Data:       bson.M(data),
		UpdateTime: now,
	}, nil
}

// fromBSON converts decoded driver values back to plain Go values: arrays
// to []any, embedded documents to maps, datetimes to UTC time.Time.
func fromBSON(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.Binary:
		return t.Data
	case int32:
		return int64(t)
	case primitive.A:
		return fromArray(t)
	case []any:
		return fromArray(t)
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case primitive.M:
		return fromMap(t)
	case map[string]any:
		return fromMap(t)
	default:
		return v
	}
}

func fromArray(a []any) []any {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = fromBSON(v)
	}
	return out
}

func fromMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromBSON(v)
	}
	return out
}

func toData(m bson.M) schema.Data {
	if m == nil {
		return schema.Data{}
	}
	return fromMap(m)
}
