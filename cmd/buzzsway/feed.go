package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	buzzsway "github.com/buzzsway/buzzsway-go"
	"github.com/spf13/cobra"
)

var (
	feedUser string

	postCreateCaption string
	postCreateMedia   string

	commentText string
)

// ============================================================================
// feed
// ============================================================================

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the post feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var posts []buzzsway.Post
		var err error
		if feedUser != "" {
			posts, err = client.Posts().ByUser(ctx, feedUser)
		} else {
			posts, err = client.Posts().All(ctx)
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(posts) == 0 {
			fmt.Println("No posts found.")
			return nil
		}

		for _, p := range posts {
			printPost(p, session.UserID)
		}
		return nil
	},
}

func printPost(p buzzsway.Post, viewerID string) {
	liked := ""
	if p.Liked(viewerID) {
		liked = " (you liked this)"
	}
	fmt.Printf("%s  @%s  %s\n", p.ID, p.User.Username, timeAgo(p.CreatedAt))
	if p.Caption != "" {
		fmt.Printf("  %s\n", p.Caption)
	}
	fmt.Printf("  %d likes%s, %d comments\n", len(p.Likes), liked, len(p.Comments))
	for _, c := range p.Comments {
		fmt.Printf("    %s  @%s: %s\n", c.ID, c.PostedBy.Username, c.Text)
	}
}

// ============================================================================
// post (parent command)
// ============================================================================

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Manage posts",
	Long:  "Create and delete posts, toggle likes, and manage comments.",
}

// ============================================================================
// post create
// ============================================================================

var postCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a post with a media file",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		media, err := os.Open(postCreateMedia)
		if err != nil {
			return fmt.Errorf("failed to open media file: %w", err)
		}
		defer media.Close()

		post, err := client.Posts().Create(ctx, session.UserID, postCreateCaption, media, filepath.Base(postCreateMedia))
		if err != nil {
			return fmt.Errorf("%s", buzzsway.UserMessage(err, "Failed to create post."))
		}

		fmt.Printf("Post created: %s\n", post.ID)
		return nil
	},
}

// ============================================================================
// post delete
// ============================================================================

var postDeleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete one of your posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Posts().Delete(ctx, session.UserID, args[0]); err != nil {
			return fmt.Errorf("%s", buzzsway.UserMessage(err, "Failed to delete post."))
		}

		fmt.Println("Post deleted.")
		return nil
	},
}

// ============================================================================
// post like
// ============================================================================

var postLikeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Toggle your like on a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()
		postID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		mutator, post, err := postMutatorFor(ctx, client, session, postID)
		if err != nil {
			return err
		}

		if err := mutator.ToggleLike(ctx, postID, post.User.ID); err != nil {
			return fmt.Errorf("like failed: %w", err)
		}

		if fresh, ok := mutator.Cache().Get(postID); ok {
			fmt.Printf("Post now has %d likes.\n", len(fresh.Likes))
		}
		return nil
	},
}

// ============================================================================
// post comment
// ============================================================================

var postCommentCmd = &cobra.Command{
	Use:   "comment <post-id>",
	Short: "Comment on a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()
		postID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		mutator, post, err := postMutatorFor(ctx, client, session, postID)
		if err != nil {
			return err
		}

		if err := mutator.AddComment(ctx, postID, post.User.ID, commentText); err != nil {
			return fmt.Errorf("%s", buzzsway.UserMessage(err, "Failed to add comment."))
		}

		fmt.Println("Comment added.")
		return nil
	},
}

// ============================================================================
// post uncomment
// ============================================================================

var postUncommentCmd = &cobra.Command{
	Use:   "uncomment <post-id> <comment-id>",
	Short: "Delete your comment from a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getAuthedClient()
		postID, commentID := args[0], args[1]

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		mutator, post, err := postMutatorFor(ctx, client, session, postID)
		if err != nil {
			return err
		}

		if err := mutator.DeleteComment(ctx, postID, post.User.ID, commentID); err != nil {
			return fmt.Errorf("%s", buzzsway.UserMessage(err, "Failed to delete comment."))
		}

		fmt.Println("Comment deleted.")
		return nil
	},
}

// postMutatorFor loads the feed into a cache and builds a mutator
// around the post being changed.
func postMutatorFor(ctx context.Context, client *buzzsway.Client, session *buzzsway.Session, postID string) (*buzzsway.PostMutator, buzzsway.Post, error) {
	posts, err := client.Posts().All(ctx)
	if err != nil {
		return nil, buzzsway.Post{}, fmt.Errorf("request failed: %w", err)
	}
	cache := buzzsway.NewPostCache()
	cache.Load(posts)

	post, ok := cache.Get(postID)
	if !ok {
		return nil, buzzsway.Post{}, fmt.Errorf("post %s not found", postID)
	}

	engine := buzzsway.NewEngine(buzzsway.OptimisticConfig{}, nil)
	return buzzsway.NewPostMutator(engine, client.Posts(), cache, session), post, nil
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	feedCmd.Flags().StringVar(&feedUser, "user", "", "Show only this user's posts (user ID)")

	postCreateCmd.Flags().StringVar(&postCreateCaption, "caption", "", "Post caption")
	postCreateCmd.Flags().StringVar(&postCreateMedia, "media", "", "Path to the media file")
	_ = postCreateCmd.MarkFlagRequired("media")

	postCommentCmd.Flags().StringVar(&commentText, "text", "", "Comment text")
	_ = postCommentCmd.MarkFlagRequired("text")

	postCmd.AddCommand(postCreateCmd)
	postCmd.AddCommand(postDeleteCmd)
	postCmd.AddCommand(postLikeCmd)
	postCmd.AddCommand(postCommentCmd)
	postCmd.AddCommand(postUncommentCmd)

	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(postCmd)
}
