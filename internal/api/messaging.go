package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/4xmen/kelasyar/internal/models"
)

// ClientMessageIDHeader tags a send so the backend and push channel can echo
// it back.
const ClientMessageIDHeader = "X-Client-Message-ID"

// OutgoingMessage is the body of a send.
type OutgoingMessage struct {
	Content  string             `json:"content"`
	Type     models.MessageType `json:"type"`
	FilePath string             `json:"file_path,omitempty"`
	FileName string             `json:"file_name,omitempty"`
	FileType string             `json:"file_type,omitempty"`

	// ClientID travels as a header, not in the body.
	ClientID string `json:"-"`
}

func (c *Client) ListConversations(ctx context.Context, userID int) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/conversations",
		query:  url.Values{"user_id": {itoa(userID)}},
	}, &resp)
	return resp.Conversations, err
}

func (c *Client) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/conversations/" + itoa(conversationID)}, &resp)
	return resp.Conversation, err
}

// CreateConversation returns the direct conversation with otherUserID,
// creating it only when none exists.
func (c *Client) CreateConversation(ctx context.Context, otherUserID int) (models.Conversation, error) {
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/conversations",
		body:   map[string]int{"participant_id": otherUserID},
	}, &resp)
	return resp.Conversation, err
}

func (c *Client) UpdateConversation(ctx context.Context, conversationID int, title string) (models.Conversation, error) {
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/conversations/" + itoa(conversationID),
		body:   map[string]string{"title": title},
	}, &resp)
	return resp.Conversation, err
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID int) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/conversations/" + itoa(conversationID)}, nil)
}

func (c *Client) GroupConversation(ctx context.Context, groupID int) (models.Conversation, error) {
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/groups/" + itoa(groupID) + "/conversation"}, &resp)
	return resp.Conversation, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/conversations/" + itoa(conversationID) + "/messages"}, &resp)
	return resp.Messages, err
}

func (c *Client) SearchMessages(ctx context.Context, conversationID int, query string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/conversations/" + itoa(conversationID) + "/messages/search",
		query:  url.Values{"q": {query}},
	}, &resp)
	return resp.Messages, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID int, msg OutgoingMessage) (models.Message, error) {
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	r := request{
		method: http.MethodPost,
		path:   "/conversations/" + itoa(conversationID) + "/messages",
		body:   msg,
	}
	if msg.ClientID != "" {
		r.header = http.Header{ClientMessageIDHeader: {msg.ClientID}}
	}

	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, r, &resp)
	return resp.Message, err
}

func (c *Client) UpdateMessage(ctx context.Context, messageID int, content string) (models.Message, error) {
	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/messages/" + itoa(messageID),
		body:   map[string]string{"content": content},
	}, &resp)
	return resp.Message, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID int) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/messages/" + itoa(messageID)}, nil)
}

func (c *Client) MarkRead(ctx context.Context, messageID int) error {
	return c.do(ctx, request{method: http.MethodPut, path: "/messages/" + itoa(messageID) + "/read"}, nil)
}

// Upload streams body as the multipart field "file".
func (c *Client) Upload(ctx context.Context, fileName, contentType string, body io.Reader) (models.Attachment, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fileDisposition("file", fileName))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var resp struct {
		File models.Attachment `json:"file"`
	}
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/upload",
		rawBody:     pr,
		contentType: mw.FormDataContentType(),
	}, &resp)
	pr.Close()
	if err != nil {
		return models.Attachment{}, err
	}
	return resp.File, nil
}

// Download returns the raw bytes of a message attachment.
func (c *Client) Download(ctx context.Context, messageID int) ([]byte, error) {
	return c.send(ctx, request{method: http.MethodGet, path: "/messages/" + itoa(messageID) + "/download", accept: "*/*"})
}

func (c *Client) GetUser(ctx context.Context, userID int) (models.User, error) {
	var resp struct {
		User models.User `json:"user"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/users/" + itoa(userID)}, &resp)
	return resp.User, err
}

func (c *Client) Recipients(ctx context.Context, userID int) ([]models.User, error) {
	var resp struct {
		Recipients []models.User `json:"recipients"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/users/" + itoa(userID) + "/recipients"}, &resp)
	return resp.Recipients, err
}

func (c *Client) Groups(ctx context.Context, userID int) ([]models.Group, error) {
	var resp struct {
		Groups []models.Group `json:"groups"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/users/" + itoa(userID) + "/groups"}, &resp)
	return resp.Groups, err
}

func (c *Client) Children(ctx context.Context, parentID int) ([]models.User, error) {
	var resp struct {
		Children []models.User `json:"children"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/users/" + itoa(parentID) + "/children"}, &resp)
	return resp.Children, err
}

// Avatar returns the user's profile image, or nil when they have none.
func (c *Client) Avatar(ctx context.Context, userID int) ([]byte, error) {
	data, err := c.send(ctx, request{method: http.MethodGet, path: "/users/" + itoa(userID) + "/avatar", accept: "image/*"})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("avatar for user %d: %w", userID, err)
	}
	return data, nil
}

// ChildName resolves the display name of a parent's first child, used to label
// parents in conversation lists.
func (c *Client) ChildName(ctx context.Context, parentID int) (string, error) {
	children, err := c.Children(ctx, parentID)
	if err != nil {
		return "", err
	}
	if len(children) == 0 {
		return "", nil
	}
	return children[0].DisplayName(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func fileDisposition(field, fileName string) string {
	return fmt.Sprintf(`form-data; name="%s"; filename="%s"`, quoteEscaper.Replace(field), quoteEscaper.Replace(fileName))
}
