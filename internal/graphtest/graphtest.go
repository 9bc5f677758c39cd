// Package graphtest holds a schema and compile helpers shared by package
// tests.
package graphtest

import (
	"testing"

	"github.com/hanpama/graphcache/internal/resolver"
	schema "github.com/hanpama/graphcache/internal/schema"
	"github.com/hanpama/graphcache/internal/selector"
)

// SDL is a small social graph.
const SDL = `
interface Node { id: ID! }

type User implements Node {
  id: ID!
  name: String
  username: String
  alternate_name: String
  friends(first: Int, orderBy: String): [User!]!
  bestFriend: User
  profilePicture(size: Int): Image
  greeting: String
  clock: String
}

type Image { uri: String }

type Page implements Node {
  id: ID!
  title: String
}

type Story implements Node {
  id: ID!
  likeCount: Int
  doesViewerLike: Boolean
  author: User
}

union Actor = User | Page

type LikePayload {
  story: Story
}

type Query {
  node(id: ID!): Node
  me: User
  actor(id: ID!): Actor
  stories: [Story]
}

type Mutation {
  likeStory(id: ID!): LikePayload
  rename(id: ID!, name: String!): User
}
`

// Schema builds the shared schema.
func Schema(t testing.TB) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL("graphtest.graphql", SDL)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

// Compile compiles src against the shared schema and reg, which may be nil.
func Compile(t testing.TB, reg *resolver.Registry, src string) *selector.Document {
	t.Helper()
	doc, err := selector.NewCompiler(Schema(t), reg).Compile(src)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return doc
}

// Fragment compiles src and returns the fragment called name.
func Fragment(t testing.TB, reg *resolver.Registry, src, name string) *selector.Fragment {
	t.Helper()
	f := Compile(t, reg, src).Fragment(name)
	if f == nil {
		t.Fatalf("fragment %s not found", name)
	}
	return f
}
