package commands

import (
	"github.com/spf13/cobra"

	"github.com/gaborage/resilient-http/internal/sampleapi"
)

// PostOptions holds the fields of a post given on the command line
type PostOptions struct {
	ID     int
	Title  string
	Body   string
	UserID int
}

func (o *PostOptions) post() sampleapi.Post {
	return sampleapi.Post{ID: o.ID, Title: o.Title, Body: o.Body, UserID: o.UserID}
}

func addPostFlags(cmd *cobra.Command, opts *PostOptions) {
	cmd.Flags().StringVar(&opts.Title, "title", "foo", "Post title")
	cmd.Flags().StringVar(&opts.Body, "body", "bar", "Post body")
	cmd.Flags().IntVar(&opts.UserID, "user-id", 1, "Owning user ID")
}

// withSession runs fn with a freshly opened session and closes it afterwards.
func withSession(opts *RootOptions, fn func(cmd *cobra.Command, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd, opts)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(cmd, s)
	}
}

func newGetCommand(root *RootOptions) *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one post",
		Args:  cobra.NoArgs,
		RunE: withSession(root, func(cmd *cobra.Command, s *session) error {
			_, err := s.service.GetPost(cmd.Context(), id)
			return err
		}),
	}
	cmd.Flags().IntVar(&id, "id", 1, "Post ID")
	return cmd
}

func newCreateCommand(root *RootOptions) *cobra.Command {
	opts := &PostOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a post",
		Args:  cobra.NoArgs,
		RunE: withSession(root, func(cmd *cobra.Command, s *session) error {
			_, err := s.service.CreatePost(cmd.Context(), opts.post())
			return err
		}),
	}
	addPostFlags(cmd, opts)
	return cmd
}

func newUpdateCommand(root *RootOptions) *cobra.Command {
	opts := &PostOptions{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace a post",
		Args:  cobra.NoArgs,
		RunE: withSession(root, func(cmd *cobra.Command, s *session) error {
			_, err := s.service.UpdatePost(cmd.Context(), opts.post())
			return err
		}),
	}
	cmd.Flags().IntVar(&opts.ID, "id", 1, "Post ID")
	addPostFlags(cmd, opts)
	return cmd
}

func newDeleteCommand(root *RootOptions) *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a post",
		Args:  cobra.NoArgs,
		RunE: withSession(root, func(cmd *cobra.Command, s *session) error {
			_, err := s.service.DeletePost(cmd.Context(), id)
			return err
		}),
	}
	cmd.Flags().IntVar(&id, "id", 1, "Post ID")
	return cmd
}

func newAllCommand(root *RootOptions) *cobra.Command {
	var parallel bool
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run GET, POST, PUT and DELETE in turn",
		Example: `  # Run the four calls one after another
  sampleapi all

  # Run them concurrently against a local API
  sampleapi all --parallel --base-url http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: withSession(root, func(cmd *cobra.Command, s *session) error {
			s.log.Info().Str("base_url", s.cfg.API.BaseURL).Bool("parallel", parallel).Msg("Starting sample API operations")
			err := sampleapi.RunAll(cmd.Context(), s.log, s.service.SampleOperations(), parallel)
			s.log.Info().Msg("All API operations completed")
			return err
		}),
	}
	cmd.Flags().BoolVarP(&parallel, "parallel", "p", false, "Run the operations concurrently")
	return cmd
}
