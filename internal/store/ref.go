package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Ref addresses a single document, e.g. "events/evt1/rideQueue/rideA".
type Ref struct {
	path string
}

// CollectionRef addresses a collection of documents, e.g. "events/evt1/rideQueue".
type CollectionRef struct {
	path string
}

// Collection returns a top-level collection.
func Collection(name string) CollectionRef {
	return CollectionRef{path: name}
}

// ParseRef parses a document path. Document paths have an even number of segments.
func ParseRef(path string) (Ref, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segments {
		if s == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return Ref{path: strings.Join(segments, "/")}, nil
}

// Path returns the slash separated document path.
func (r Ref) Path() string { return r.path }

// String implements fmt.Stringer.
func (r Ref) String() string { return r.path }

// IsZero reports whether r addresses nothing.
func (r Ref) IsZero() bool { return r.path == "" }

// ID returns the last path segment.
func (r Ref) ID() string {
	return r.path[strings.LastIndexByte(r.path, '/')+1:]
}

// Parent returns the collection containing the document.
func (r Ref) Parent() CollectionRef {
	i := strings.LastIndexByte(r.path, '/')
	if i < 0 {
		return CollectionRef{}
	}
	return CollectionRef{path: r.path[:i]}
}

// Collection returns a sub-collection of the document.
func (r Ref) Collection(name string) CollectionRef {
	return CollectionRef{path: r.path + "/" + name}
}

// Path returns the slash separated collection path.
func (c CollectionRef) Path() string { return c.path }

// ID returns the collection name.
func (c CollectionRef) ID() string {
	return c.path[strings.LastIndexByte(c.path, '/')+1:]
}

// Doc returns the document with the given id inside the collection.
func (c CollectionRef) Doc(id string) Ref {
	return Ref{path: c.path + "/" + id}
}

// NewDoc returns a document with a freshly generated id.
func (c CollectionRef) NewDoc() Ref {
	return c.Doc(uuid.NewString())
}

// OrderBy starts an ascending query over the collection.
func (c CollectionRef) OrderBy(field string) Query {
	return Query{Collection: c, OrderBy: field}
}

// All returns a query over every document in the collection, ordered by id.
func (c CollectionRef) All() Query {
	return Query{Collection: c}
}
