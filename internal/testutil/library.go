package testutil

import (
	"time"

	"github.com/roach88/collx/internal/metadata"
)

// LibraryRegistry builds the metadata of the library fixture schema:
//
//	Author 1:N Book (Book.author holds author_id)
//	Author 1:1 Profile (Profile.author holds author_id)
//	Publisher 1:N Book (Book.publisher holds publisher_id)
//	Book N:M Tag (junction books_tags, owned by Book)
//	Author embeds Address, which embeds Geo
//
// testdata/schema/library.cue declares the same schema; keep them in sync.
func LibraryRegistry() *metadata.Registry {
	geo := metadata.NewEntityMetadata("Geo", "", "").
		MustAddProperty(&metadata.PropertyMetadata{Name: "lat", Type: metadata.TypeFloat, Nullable: true}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "lng", Type: metadata.TypeFloat, Nullable: true})

	address := metadata.NewEntityMetadata("Address", "", "").
		MustAddProperty(&metadata.PropertyMetadata{Name: "street", Type: metadata.TypeString, Nullable: true}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "city", Type: metadata.TypeString, Nullable: true}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "geo", Embeddable: geo})

	author := metadata.NewEntityMetadata("Author", "authors", "id").
		MustAddProperty(&metadata.PropertyMetadata{Name: "id", Type: metadata.TypeInt}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "name", Type: metadata.TypeString}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "born", Type: metadata.TypeDateTime, Nullable: true}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "address", Embeddable: address}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "books", Relationship: &metadata.Relationship{
			Kind: metadata.OneHasMany, Entity: "Book", Property: "author",
		}}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "profile", Relationship: &metadata.Relationship{
			Kind: metadata.OneHasOne, Entity: "Profile", Property: "author",
		}})

	book := metadata.NewEntityMetadata("Book", "books", "id").
		MustAddProperty(&metadata.PropertyMetadata{Name: "id", Type: metadata.TypeInt}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "title", Type: metadata.TypeString}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "price", Type: metadata.TypeInt, Nullable: true}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "publishedAt", Type: metadata.TypeDateTime, Nullable: true}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "author", Relationship: &metadata.Relationship{
			Kind: metadata.ManyHasOne, Entity: "Author",
		}}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "publisher", Nullable: true, Relationship: &metadata.Relationship{
			Kind: metadata.ManyHasOne, Entity: "Publisher",
		}}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "tags", Relationship: &metadata.Relationship{
			Kind: metadata.ManyHasMany, Entity: "Tag", IsMain: true,
			Junction: &metadata.Junction{Table: "books_tags", Column: "book_id", TargetColumn: "tag_id"},
		}})

	tag := metadata.NewEntityMetadata("Tag", "tags", "id").
		MustAddProperty(&metadata.PropertyMetadata{Name: "id", Type: metadata.TypeInt}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "name", Type: metadata.TypeString}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "books", Relationship: &metadata.Relationship{
			Kind: metadata.ManyHasMany, Entity: "Book", Property: "tags",
		}})

	publisher := metadata.NewEntityMetadata("Publisher", "publishers", "id").
		MustAddProperty(&metadata.PropertyMetadata{Name: "id", Type: metadata.TypeInt}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "name", Type: metadata.TypeString}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "books", Relationship: &metadata.Relationship{
			Kind: metadata.OneHasMany, Entity: "Book", Property: "publisher",
		}})

	profile := metadata.NewEntityMetadata("Profile", "profiles", "id").
		MustAddProperty(&metadata.PropertyMetadata{Name: "id", Type: metadata.TypeInt}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "bio", Type: metadata.TypeString, Nullable: true}).
		MustAddProperty(&metadata.PropertyMetadata{Name: "author", Relationship: &metadata.Relationship{
			Kind: metadata.OneHasOne, Entity: "Author", IsMain: true,
		}})

	reg := metadata.NewRegistry()
	mustNot(reg.AddEmbeddable(geo))
	mustNot(reg.AddEmbeddable(address))
	for _, m := range []*metadata.EntityMetadata{author, book, tag, publisher, profile} {
		mustNot(reg.AddEntity(m))
	}
	mustNot(reg.Finalize())
	return reg
}

func mustNot(err error) {
	if err != nil {
		panic(err)
	}
}

// Library is the in-memory library fixture: records linked in both
// directions, the way a loader hands them to the evaluators.
//
//	Alice (1)  born 1970, Prague   books: Go in Action (10), Rust Book (11)
//	Bob (2)    no birth date       books: Cooking (12), Baking (13)
//	Carol (3)  no address          books: none
//
// Book prices are 30, 40, null and 15. Rust Book has no publisher.
type Library struct {
	Registry *metadata.Registry

	Authors    []*metadata.Record
	Books      []*metadata.Record
	Tags       []*metadata.Record
	Publishers []*metadata.Record
	Profiles   []*metadata.Record
}

// NewLibrary builds a fresh library fixture. Records are new on every call,
// so tests may modify them.
func NewLibrary() *Library {
	lib := &Library{Registry: LibraryRegistry()}

	alice := author(1, "Alice", time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		metadata.Values{"street": "Na Prikope 1", "city": "Prague", "geo": metadata.Values{"lat": 50.08, "lng": 14.42}})
	bob := author(2, "Bob", nil,
		metadata.Values{"street": nil, "city": "Brno", "geo": metadata.Values{"lat": nil, "lng": nil}})
	carol := author(3, "Carol", time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC), nil)
	lib.Authors = []*metadata.Record{alice, bob, carol}

	manning := metadata.NewRecord("Publisher", map[string]any{"id": int64(100), "name": "Manning", "books": []metadata.Entity{}})
	oreilly := metadata.NewRecord("Publisher", map[string]any{"id": int64(101), "name": "O'Reilly", "books": []metadata.Entity{}})
	lib.Publishers = []*metadata.Record{manning, oreilly}

	goTag := tagRecord(1, "go")
	progTag := tagRecord(2, "programming")
	foodTag := tagRecord(3, "food")
	lib.Tags = []*metadata.Record{goTag, progTag, foodTag}

	lib.Books = []*metadata.Record{
		lib.book(10, "Go in Action", int64(30), "2015-11-01", alice, manning, goTag, progTag),
		lib.book(11, "Rust Book", int64(40), "2018-06-01", alice, nil, progTag),
		lib.book(12, "Cooking", nil, nil, bob, oreilly),
		lib.book(13, "Baking", int64(15), "2020-03-01", bob, oreilly, foodTag),
	}

	profile := metadata.NewRecord("Profile", map[string]any{"id": int64(1), "bio": "Writes about systems.", "author": alice})
	alice.SetValue("profile", profile)
	bob.SetValue("profile", nil)
	carol.SetValue("profile", nil)
	lib.Profiles = []*metadata.Record{profile}

	return lib
}

func author(id int64, name string, born any, address metadata.ValueHolder) *metadata.Record {
	values := map[string]any{
		"id":    id,
		"name":  name,
		"born":  born,
		"books": []metadata.Entity{},
	}
	if address != nil {
		values["address"] = address
	}
	return metadata.NewRecord("Author", values)
}

func tagRecord(id int64, name string) *metadata.Record {
	return metadata.NewRecord("Tag", map[string]any{"id": id, "name": name, "books": []metadata.Entity{}})
}

func (l *Library) book(id int64, title string, price, published any, author, publisher *metadata.Record, tags ...*metadata.Record) *metadata.Record {
	var pub any
	if publisher != nil {
		pub = publisher
	}
	b := metadata.NewRecord("Book", map[string]any{
		"id":          id,
		"title":       title,
		"price":       price,
		"publishedAt": published,
		"author":      author,
		"publisher":   pub,
		"tags":        []metadata.Entity{},
	})
	author.Append("books", b)
	if publisher != nil {
		publisher.Append("books", b)
	}
	for _, tag := range tags {
		b.Append("tags", tag)
		tag.Append("books", b)
	}
	return b
}

// Entities returns the records of the named entity as entities.
func (l *Library) Entities(name string) []metadata.Entity {
	var records []*metadata.Record
	switch name {
	case "Author":
		records = l.Authors
	case "Book":
		records = l.Books
	case "Tag":
		records = l.Tags
	case "Publisher":
		records = l.Publishers
	case "Profile":
		records = l.Profiles
	}
	out := make([]metadata.Entity, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// IDs returns the "id" values of entities, in order.
func IDs(entities []metadata.Entity) []any {
	out := make([]any, len(entities))
	for i, e := range entities {
		out[i] = e.GetValue("id")
	}
	return out
}
