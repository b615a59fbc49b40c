// Package gql builds the GraphQL schema over the posts service.
package gql

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"

	"github.com/vyuha/contentapi/internal/posts"
)

// SDL is the schema served at /graphql, in schema definition language.
const SDL = `type Post { id: ID!, title: String! }
type Query {
  posts(search: String): [Post!]!
}
type Mutation {
  addPost(title: String!): Post!
  updatePost(id: ID!, title: String!): Post
  deletePost(id: ID!): Boolean!
}
`

// Request is a single GraphQL operation as sent over HTTP.
type Request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// Schema executes GraphQL operations against a posts.Service.
type Schema struct {
	schema graphql.Schema
}

// NewSchema builds the executable schema.
func NewSchema(svc *posts.Service) (*Schema, error) {
	postType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Post",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					post, err := postFrom(p.Source)
					return post.ID, err
				},
			},
			"title": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					post, err := postFrom(p.Source)
					return post.Title, err
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"posts": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(postType))),
				Args: graphql.FieldConfigArgument{
					"search": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					search, _ := p.Args["search"].(string)
					return svc.List(p.Context, search)
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"addPost": &graphql.Field{
				Type: graphql.NewNonNull(postType),
				Args: graphql.FieldConfigArgument{
					"title": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					title, _ := p.Args["title"].(string)
					return svc.Add(p.Context, title)
				},
			},
			"updatePost": &graphql.Field{
				Type: postType,
				Args: graphql.FieldConfigArgument{
					"id":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"title": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					title, _ := p.Args["title"].(string)
					post, err := svc.Update(p.Context, id, title)
					if err != nil || post == nil {
						return nil, err
					}
					return *post, nil
				},
			},
			"deletePost": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					return svc.Delete(p.Context, id)
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
	if err != nil {
		return nil, fmt.Errorf("gql: build schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// Execute runs one operation. Failures are reported in the result's error
// list, never as a Go error.
func (s *Schema) Execute(ctx context.Context, req Request) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

func postFrom(src interface{}) (posts.Post, error) {
	switch v := src.(type) {
	case posts.Post:
		return v, nil
	case *posts.Post:
		if v != nil {
			return *v, nil
		}
	}
	return posts.Post{}, fmt.Errorf("gql: unexpected Post source %T", src)
}

// IsMutation reports whether the operation req selects is a mutation.
func (r Request) IsMutation() (bool, error) {
	doc, err := parser.Parse(parser.ParseParams{Source: r.Query})
	if err != nil {
		return false, err
	}
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if r.OperationName != "" && (op.Name == nil || op.Name.Value != r.OperationName) {
			continue
		}
		if op.Operation == ast.OperationTypeMutation {
			return true, nil
		}
	}
	return false, nil
}
