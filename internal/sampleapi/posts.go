// Package sampleapi exercises the resilient client against a
// JSONPlaceholder-style posts API.
package sampleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	rhttp "github.com/gaborage/resilient-http/http"
	"github.com/gaborage/resilient-http/logger"
)

const (
	// PostsEndpoint is the collection path below the base URL
	PostsEndpoint = "/posts"

	contentTypeJSON = "Content-Type: application/json; charset=UTF-8"
)

// ErrDecode is returned when a successful response body is not the expected JSON.
var ErrDecode = errors.New("failed to decode response")

// Post is one resource of the posts API.
type Post struct {
	ID     int    `json:"id,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	UserID int    `json:"userId"`
}

// Service issues the posts operations and prints their results.
type Service struct {
	client  rhttp.Client
	baseURL string
	log     logger.Logger

	outMu sync.Mutex
	out   io.Writer

	gets singleflight.Group
}

// NewService creates a posts service. Results are printed to out.
func NewService(client rhttp.Client, baseURL string, log logger.Logger, out io.Writer) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Service{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
		out:     out,
	}
}

func (s *Service) postsURL() string {
	return s.baseURL + PostsEndpoint
}

func (s *Service) postURL(id int) string {
	return s.postsURL() + "/" + strconv.Itoa(id)
}

// GetPost fetches one post. Concurrent calls for the same id share a single request.
func (s *Service) GetPost(ctx context.Context, id int) (*Post, error) {
	v, err, _ := s.gets.Do(strconv.Itoa(id), func() (any, error) {
		resp := s.client.Get(ctx, s.postURL(id))
		return s.decodePost("GET", resp)
	})
	if err != nil {
		return nil, err
	}
	post := *v.(*Post)
	return &post, nil
}

// CreatePost posts a new resource.
func (s *Service) CreatePost(ctx context.Context, post Post) (*Post, error) {
	body, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("failed to encode post: %w", err)
	}
	resp := s.client.Post(ctx, s.postsURL(), body, contentTypeJSON)
	return s.decodePost("POST", resp)
}

// UpdatePost replaces the post with post.ID.
func (s *Service) UpdatePost(ctx context.Context, post Post) (*Post, error) {
	if post.ID <= 0 {
		return nil, fmt.Errorf("post id must be positive: %d", post.ID)
	}
	body, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("failed to encode post: %w", err)
	}
	resp := s.client.Put(ctx, s.postURL(post.ID), body, contentTypeJSON)
	return s.decodePost("PUT", resp)
}

// DeletePost removes a post and returns whatever JSON the API answered with.
func (s *Service) DeletePost(ctx context.Context, id int) (map[string]any, error) {
	resp := s.client.Delete(ctx, s.postURL(id))
	if err := s.checkResponse("DELETE", resp); err != nil {
		return nil, err
	}

	result := map[string]any{}
	if err := s.decode("DELETE", resp, &result); err != nil {
		return nil, err
	}

	pretty, err := json.MarshalIndent(result, "  ", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to format response: %w", err)
	}
	s.print(fmt.Sprintf("DELETE Response Parsed:\n  Response: %s\n\n", pretty))
	return result, nil
}

func (s *Service) decodePost(op string, resp rhttp.Response) (*Post, error) {
	if err := s.checkResponse(op, resp); err != nil {
		return nil, err
	}

	var post Post
	if err := s.decode(op, resp, &post); err != nil {
		return nil, err
	}
	s.print(formatPost(op, &post))
	return &post, nil
}

func (s *Service) checkResponse(op string, resp rhttp.Response) error {
	if resp.Success {
		return nil
	}
	s.log.Error().
		Str("operation", op).
		Int("status", resp.StatusCode).
		Int("attempts", resp.Attempts).
		Str("request_id", resp.RequestID).
		Str("error", resp.ErrorMessage).
		Msg(op + " request failed")
	return fmt.Errorf("%s request failed: %w", op, resp.Err())
}

// decode unmarshals the body into v. On failure the raw body is printed.
func (s *Service) decode(op string, resp rhttp.Response, v any) error {
	if err := json.Unmarshal([]byte(resp.Body), v); err != nil {
		s.log.Error().
			Str("operation", op).
			Err(err).
			Msg("Error parsing JSON")
		s.print(fmt.Sprintf("Raw response: %s\n", resp.Body))
		return fmt.Errorf("%s: %w: %w", op, ErrDecode, err)
	}
	return nil
}

func (s *Service) print(text string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = io.WriteString(s.out, text)
}

func formatPost(op string, post *Post) string {
	return fmt.Sprintf("%s Response Parsed:\n  ID: %d\n  Title: %q\n  Body: %q\n  User ID: %d\n\n",
		op, post.ID, post.Title, post.Body, post.UserID)
}

// Operation is one named step of RunAll.
type Operation struct {
	Name string
	Run  func(ctx context.Context) error
}

// SampleOperations returns the GET, POST, PUT and DELETE calls against post 1.
func (s *Service) SampleOperations() []Operation {
	sample := Post{Title: "foo", Body: "bar", UserID: 1}
	return []Operation{
		{Name: "GET", Run: func(ctx context.Context) error {
			_, err := s.GetPost(ctx, 1)
			return err
		}},
		{Name: "POST", Run: func(ctx context.Context) error {
			_, err := s.CreatePost(ctx, sample)
			return err
		}},
		{Name: "PUT", Run: func(ctx context.Context) error {
			updated := sample
			updated.ID = 1
			_, err := s.UpdatePost(ctx, updated)
			return err
		}},
		{Name: "DELETE", Run: func(ctx context.Context) error {
			_, err := s.DeletePost(ctx, 1)
			return err
		}},
	}
}

// RunAll runs every operation. A failed operation is logged and does not stop
// the others; the joined failures are returned. With parallel set the
// operations run concurrently.
func RunAll(ctx context.Context, log logger.Logger, ops []Operation, parallel bool) error {
	if log == nil {
		log = logger.Nop()
	}
	errs := make([]error, len(ops))

	run := func(i int) {
		op := ops[i]
		if err := op.Run(ctx); err != nil {
			log.Error().Str("operation", op.Name).Err(err).Msg(op.Name + " operation failed")
			errs[i] = fmt.Errorf("%s: %w", op.Name, err)
		}
	}

	if !parallel {
		for i := range ops {
			run(i)
		}
		return errors.Join(errs...)
	}

	var g errgroup.Group
	for i := range ops {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
