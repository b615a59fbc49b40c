// Package posts is the query/mutation layer shared by the GraphQL and REST
// transports. It holds no state; every call goes straight to the store.
package posts

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyuha/contentapi/internal/storage"
)

// Post is re-exported so transports don't need to import storage.
type Post = storage.Post

// Change event types published after successful mutations.
const (
	EventCreated = "post.created"
	EventUpdated = "post.updated"
	EventDeleted = "post.deleted"

	// EventReloaded reports that the store changed outside this process.
	EventReloaded = "posts.reloaded"
)

// Event describes one applied mutation.
type Event struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Post *Post  `json:"post,omitempty"`
}

// Notifier receives change events. Implementations must not block.
type Notifier interface {
	Notify(ev Event)
}

// Service exposes list/add/update/delete over a PostStore.
type Service struct {
	store    storage.PostStore
	notifier Notifier
	tracer   trace.Tracer
}

// NewService wires a Service to store. notifier may be nil.
func NewService(store storage.PostStore, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		tracer:   otel.Tracer("github.com/vyuha/contentapi/internal/posts"),
	}
}

// List returns all posts, or only those whose title contains search
// (case-insensitive) when search is non-empty.
func (s *Service) List(ctx context.Context, search string) ([]Post, error) {
	ctx, span := s.tracer.Start(ctx, "posts.List", trace.WithAttributes(
		attribute.String("posts.search", search),
	))
	defer span.End()

	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("posts.total", len(all)))
	return Filter(all, search), nil
}

// Filter keeps posts whose title contains search, ignoring case.
func Filter(all []Post, search string) []Post {
	if search == "" {
		return all
	}
	needle := strings.ToLower(search)
	out := make([]Post, 0, len(all))
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Title), needle) {
			out = append(out, p)
		}
	}
	return out
}

// Add creates a post.
func (s *Service) Add(ctx context.Context, title string) (Post, error) {
	ctx, span := s.tracer.Start(ctx, "posts.Add")
	defer span.End()

	p, err := s.store.Create(ctx, title)
	if err != nil {
		return Post{}, fail(span, err)
	}
	span.SetAttributes(attribute.String("posts.id", p.ID))
	s.notify(Event{Type: EventCreated, ID: p.ID, Post: &p})
	return p, nil
}

// Update retitles a post. A nil result with a nil error means no post has
// that id.
func (s *Service) Update(ctx context.Context, id, title string) (*Post, error) {
	ctx, span := s.tracer.Start(ctx, "posts.Update", trace.WithAttributes(
		attribute.String("posts.id", id),
	))
	defer span.End()

	p, err := s.store.Update(ctx, id, title)
	if errors.Is(err, storage.ErrPostNotFound) {
		span.SetAttributes(attribute.Bool("posts.found", false))
		return nil, nil
	}
	if err != nil {
		return nil, fail(span, err)
	}
	s.notify(Event{Type: EventUpdated, ID: p.ID, Post: &p})
	return &p, nil
}

// Delete removes a post and reports whether it existed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "posts.Delete", trace.WithAttributes(
		attribute.String("posts.id", id),
	))
	defer span.End()

	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fail(span, err)
	}
	span.SetAttributes(attribute.Bool("posts.found", ok))
	if ok {
		s.notify(Event{Type: EventDeleted, ID: id})
	}
	return ok, nil
}

func (s *Service) notify(ev Event) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
