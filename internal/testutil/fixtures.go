// Package testutil holds the Authors/Posts collections shared by tests and
// the demo CLI.
package testutil

import (
	"time"

	"github.com/spf13/cast"

	"firestore-odm/pkg/odm/schema"
)

// Author is a root-collection model.
type Author struct {
	ID        string
	Name      string
	Age       int
	CreatedAt time.Time
}

// Post lives in the Posts subcollection under an author.
type Post struct {
	AuthorID string
	ID       string
	Title    string
	Likes    int
	Tags     []string
}

// NewAuthors declares the Authors collection.
func NewAuthors() *schema.Collection[Author] {
	return &schema.Collection[Author]{
		Name:     "Authors",
		IDFields: []string{"id"},
		Fields:   []string{"id", "name", "age", "createdAt"},
		Mapper: schema.Mapper[Author]{
			ToDB: func(a Author) (schema.Data, error) {
				data := schema.Data{"id": a.ID, "name": a.Name, "age": a.Age}
				if !a.CreatedAt.IsZero() {
					data["createdAt"] = a.CreatedAt
				}
				return data, nil
			},
			FromDB: func(d schema.Data) (Author, error) {
				age, err := cast.ToIntE(d["age"])
				if err != nil {
					return Author{}, err
				}
				a := Author{ID: cast.ToString(d["id"]), Name: cast.ToString(d["name"]), Age: age}
				if raw, ok := d["createdAt"]; ok {
					if a.CreatedAt, err = schema.TimeValue(raw); err != nil {
						return Author{}, err
					}
				}
				return a, nil
			},
		},
	}
}

// NewPosts declares the Posts subcollection of authors.
func NewPosts(authors schema.Schema) *schema.Collection[Post] {
	return &schema.Collection[Post]{
		Name:           "Posts",
		IDFields:       []string{"id"},
		Parent:         authors,
		ParentIDFields: []string{"authorId"},
		Mapper: schema.Mapper[Post]{
			ToDB: func(p Post) (schema.Data, error) {
				tags := make([]any, len(p.Tags))
				for i, t := range p.Tags {
					tags[i] = t
				}
				return schema.Data{"authorId": p.AuthorID, "id": p.ID, "title": p.Title, "likes": p.Likes, "tags": tags}, nil
			},
			FromDB: func(d schema.Data) (Post, error) {
				likes, err := cast.ToIntE(d["likes"])
				if err != nil {
					return Post{}, err
				}
				return Post{
					AuthorID: cast.ToString(d["authorId"]),
					ID:       cast.ToString(d["id"]),
					Title:    cast.ToString(d["title"]),
					Likes:    likes,
					Tags:     cast.ToStringSlice(d["tags"]),
				}, nil
			},
		},
	}
}

// ThreeAuthors returns the three-author data set used by the query scenarios.
func ThreeAuthors() []Author {
	return []Author{
		{ID: "1", Name: "Ana", Age: 40},
		{ID: "2", Name: "Bruno", Age: 90},
		{ID: "3", Name: "Carla", Age: 20},
	}
}

// SamplePosts returns posts spread over two authors.
func SamplePosts() []Post {
	return []Post{
		{AuthorID: "author1", ID: "p1", Title: "First", Likes: 10, Tags: []string{"go"}},
		{AuthorID: "author1", ID: "p2", Title: "Second", Likes: 30, Tags: []string{"db", "go"}},
		{AuthorID: "author2", ID: "p3", Title: "Third", Likes: 20, Tags: []string{"db"}},
		{AuthorID: "author2", ID: "p4", Title: "Fourth", Likes: 5},
	}
}

// AuthorIDs extracts ids in order.
func AuthorIDs(authors []Author) []string {
	ids := make([]string, len(authors))
	for i, a := range authors {
		ids[i] = a.ID
	}
	return ids
}

// PostIDs extracts ids in order.
func PostIDs(posts []Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
