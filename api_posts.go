package buzzsway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// ============================================================================
// Posts sub-client
// ============================================================================

// PostsClient handles the posts endpoints: feed, per-user listing,
// creation, deletion, likes, and comments.
type PostsClient struct{ c *Client }

// All returns the global feed.
func (p *PostsClient) All(ctx context.Context) ([]Post, error) {
	data, err := p.c.doRequest(ctx, "GET", "/posts/allPosts", nil, nil)
	if err != nil {
		return nil, err
	}
	var posts []Post
	if err := unmarshalInto(data, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// ByUser returns all posts owned by the given user. This is also the
// reconciling read for like/comment mutations: the caller locates the
// entity by id in the returned batch.
func (p *PostsClient) ByUser(ctx context.Context, userID string) ([]Post, error) {
	data, err := p.c.doRequest(ctx, "GET", "/posts/user/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	var posts []Post
	if err := unmarshalInto(data, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// Create publishes a post with a caption and a media attachment as a
// multipart form. media may be nil for a caption-only post.
func (p *PostsClient) Create(ctx context.Context, userID, caption string, media io.Reader, mediaName string) (*Post, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("caption", caption); err != nil {
		return nil, fmt.Errorf("failed to write caption field: %w", err)
	}
	if media != nil {
		part, err := createMediaPart(w, mediaName)
		if err != nil {
			return nil, fmt.Errorf("failed to create media part: %w", err)
		}
		if _, err := io.Copy(part, media); err != nil {
			return nil, fmt.Errorf("failed to write media data: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.c.baseURL+"/posts/"+userID+"/create", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	data, err := p.c.send(req, "POST", "/posts/"+userID+"/create")
	if err != nil {
		return nil, err
	}
	return decodeJSON[Post](data)
}

// Delete removes a post owned by userID.
func (p *PostsClient) Delete(ctx context.Context, userID, postID string) error {
	_, err := p.c.doRequest(ctx, "DELETE", "/posts/"+userID+"/delete/"+postID, nil, nil)
	return err
}

// Like toggles userID's like on a post. The server flips membership, so
// the same call both likes and unlikes.
func (p *PostsClient) Like(ctx context.Context, postID, userID string) error {
	_, err := p.c.doRequest(ctx, "POST", "/posts/"+postID+"/like",
		map[string]string{"userId": userID}, nil)
	return err
}

// Comment adds a comment and returns the server's version of it.
func (p *PostsClient) Comment(ctx context.Context, postID, userID, text string) (*Comment, error) {
	data, err := p.c.doRequest(ctx, "POST", "/posts/"+postID+"/comment",
		map[string]string{"userId": userID, "text": text}, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Comment *Comment `json:"comment"`
	}
	if err := unmarshalInto(data, &resp); err != nil {
		return nil, err
	}
	return resp.Comment, nil
}

// DeleteComment removes a comment. Deleting without ownership fails with
// a payload-bearing error meant for display.
func (p *PostsClient) DeleteComment(ctx context.Context, postID, commentID, userID string) error {
	_, err := p.c.doRequest(ctx, "DELETE", "/posts/"+postID+"/comment/"+commentID,
		map[string]string{"userId": userID}, nil)
	return err
}

// createMediaPart builds the "media" form part with a concrete content
// type so video uploads are not sniffed as octet-stream.
func createMediaPart(w *multipart.Writer, fileName string) (io.Writer, error) {
	contentType := guessMediaType(fileName)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{
		fmt.Sprintf(`form-data; name="media"; filename="%s"`, filepath.Base(fileName)),
	}
	h["Content-Type"] = []string{contentType}
	return w.CreatePart(h)
}

func guessMediaType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	fallback := map[string]string{
		".webp": "image/webp", ".webm": "video/webm", ".ogg": "video/ogg",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
