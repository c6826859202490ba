package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	odmerrors "firestore-odm/pkg/errors"
)

type user struct {
	Tenant string
	ID     int
	Name   string
	Joined time.Time
}

type session struct {
	Tenant string
	UserID int
	Token  string
}

func identityMapper[T any]() Mapper[T] {
	return Mapper[T]{
		FromDB: func(Data) (T, error) { var zero T; return zero, nil },
		ToDB:   func(T) (Data, error) { return Data{}, nil },
	}
}

func newUsers() *Collection[user] {
	return &Collection[user]{
		Name:     "Users",
		IDFields: []string{"tenant", "id"},
		Mapper: Mapper[user]{
			ToDB: func(u user) (Data, error) {
				return Data{"tenant": u.Tenant, "id": u.ID, "name": u.Name, "joined": u.Joined}, nil
			},
			FromDB: func(d Data) (user, error) {
				joined, err := TimeValue(d["joined"])
				if err != nil {
					return user{}, err
				}
				return user{Tenant: cast.ToString(d["tenant"]), ID: cast.ToInt(d["id"]), Name: cast.ToString(d["name"]), Joined: joined}, nil
			},
		},
	}
}

func newSessions(users Schema) *Collection[session] {
	return &Collection[session]{
		Name:           "Sessions",
		IDFields:       []string{"token"},
		Parent:         users,
		ParentIDFields: []string{"userTenant", "userId"},
		Mapper:         identityMapper[session](),
	}
}

func TestDocPath_RootCollection(t *testing.T) {
	users := newUsers()
	path, err := DocPath(users, ID{"tenant": "acme", "id": 7})
	require.NoError(t, err)
	assert.Equal(t, "Users/acme7", path)

	col, err := CollectionPath(users, nil)
	require.NoError(t, err)
	assert.Equal(t, "Users", col)
}

func TestDocPath_Subcollection(t *testing.T) {
	users := newUsers()
	sessions := newSessions(users)
	require.NoError(t, sessions.Validate())

	id := ID{"userTenant": "acme", "userId": 7, "token": "abc"}
	path, err := sessions.DocPath(id)
	require.NoError(t, err)
	assert.Equal(t, "Users/acme7/Sessions/abc", path)

	col, err := CollectionPath(sessions, sessions.ParentIDOf(id))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, col))
	assert.True(t, strings.HasSuffix(path, "/abc"))
}

func TestCollectionPath_MissingParentID(t *testing.T) {
	sessions := newSessions(newUsers())
	_, err := CollectionPath(sessions, ID{"userTenant": "acme"})
	require.Error(t, err)
	assert.True(t, odmerrors.IsValidation(err))
	assert.ErrorIs(t, err, odmerrors.ErrInvalidID)
}

func TestDocID_InvalidValues(t *testing.T) {
	users := newUsers()
	tests := []struct {
		name string
		id   ID
	}{
		{"missing field", ID{"tenant": "acme"}},
		{"nil value", ID{"tenant": "acme", "id": nil}},
		{"slash", ID{"tenant": "a/b", "id": 1}},
		{"empty", ID{"tenant": "", "id": ""}},
		{"non scalar", ID{"tenant": struct{}{}, "id": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DocID(users, tt.id)
			assert.ErrorIs(t, err, odmerrors.ErrInvalidID)
		})
	}
}

func TestCollection_Validate(t *testing.T) {
	users := newUsers()
	assert.NoError(t, users.Validate())

	tests := []struct {
		name   string
		mutate func(c *Collection[session])
	}{
		{"empty name", func(c *Collection[session]) { c.Name = "" }},
		{"slash in name", func(c *Collection[session]) { c.Name = "a/b" }},
		{"no id fields", func(c *Collection[session]) { c.IDFields = nil }},
		{"overlap", func(c *Collection[session]) { c.IDFields = []string{"userId"} }},
		{"parent without fields", func(c *Collection[session]) { c.ParentIDFields = nil }},
		{"field count mismatch", func(c *Collection[session]) { c.ParentIDFields = []string{"userId"} }},
		{"fields without parent", func(c *Collection[session]) { c.Parent = nil }},
		{"no mapper", func(c *Collection[session]) { c.Mapper = Mapper[session]{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newSessions(users)
			tt.mutate(c)
			err := c.Validate()
			assert.ErrorIs(t, err, odmerrors.ErrInvalidSchema)
		})
	}
}

func TestCollection_IDOfAndUniqueName(t *testing.T) {
	users := newUsers()
	id, err := users.IDOf(user{Tenant: "acme", ID: 3, Name: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, ID{"tenant": "acme", "id": 3}, id)

	clone := users.WithUniqueName()
	assert.NotEqual(t, users.Name, clone.Name)
	assert.True(t, strings.HasPrefix(clone.Name, "Users_"))
	assert.Equal(t, "Users", users.Name)
	assert.NoError(t, clone.Validate())
}

func TestMapper_RoundTrip(t *testing.T) {
	users := newUsers()
	in := user{Tenant: "acme", ID: 9, Name: "Zoe", Joined: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	data, err := users.Mapper.ToDB(in)
	require.NoError(t, err)
	out, err := users.Mapper.FromDB(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParsePath(t *testing.T) {
	col, name, id, err := ParsePath("Authors/a1/Posts/p1")
	require.NoError(t, err)
	assert.Equal(t, "Authors/a1/Posts", col)
	assert.Equal(t, "Posts", name)
	assert.Equal(t, "p1", id)
	assert.Equal(t, "Authors/a1", ParentPath(col))
	assert.Equal(t, "", ParentPath("Authors"))

	for _, bad := range []string{"Authors", "Authors/a1/Posts", "Authors//x/y"} {
		_, _, _, err := ParsePath(bad)
		assert.ErrorIs(t, err, odmerrors.ErrInvalidPath, bad)
	}
}

func TestFieldPath(t *testing.T) {
	fp, err := NewFieldPath("address.city")
	require.NoError(t, err)
	assert.Equal(t, "address", fp.Root())
	assert.True(t, fp.IsNested())
	assert.Equal(t, []string{"address", "city"}, fp.Segments())

	v, ok := fp.Lookup(Data{"address": map[string]any{"city": "Lima"}})
	assert.True(t, ok)
	assert.Equal(t, "Lima", v)

	_, ok = fp.Lookup(Data{"address": "flat"})
	assert.False(t, ok)

	for _, bad := range []string{"", ".a", "a.", "a..b", "__name__", "a/b", "a[0]"} {
		_, err := NewFieldPath(bad)
		assert.ErrorIs(t, err, odmerrors.ErrInvalidFieldPath, bad)
	}
}

func TestValidateField_KnownFields(t *testing.T) {
	users := newUsers()
	users.Fields = []string{"tenant", "id", "name", "profile"}

	_, err := ValidateField(users, "profile.bio")
	assert.NoError(t, err)
	_, err = ValidateField(users, "nickname")
	assert.ErrorIs(t, err, odmerrors.ErrInvalidFieldPath)
}

type dateTime int64

func (d dateTime) Time() time.Time { return time.UnixMilli(int64(d)).UTC() }

func TestTimeValue_Widening(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for name, in := range map[string]any{
		"time":      want,
		"pointer":   &want,
		"time-like": dateTime(want.UnixMilli()),
		"rfc3339":   want.Format(time.RFC3339),
		"millis":    want.UnixMilli(),
	} {
		got, err := TimeValue(in)
		require.NoError(t, err, name)
		assert.True(t, want.Equal(got), name)
	}

	_, err := TimeValue("yesterday")
	assert.Error(t, err)
}

func TestReplaceSentinels(t *testing.T) {
	now := time.Now()
	in := Data{
		"updated": ServerTimestamp,
		"nested":  map[string]any{"at": ServerTimestamp},
		"list":    []any{ServerTimestamp, 1},
		"plain":   "x",
	}
	out := ReplaceSentinels(in, func(FieldValue) any { return now })

	assert.Equal(t, now, out["updated"])
	assert.Equal(t, now, out["nested"].(map[string]any)["at"])
	assert.Equal(t, []any{now, 1}, out["list"])
	assert.Equal(t, ServerTimestamp, in["updated"], "input must not be mutated")
}
