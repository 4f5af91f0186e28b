package api_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/backendtest"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

type fixture struct {
	srv     *backendtest.Server
	url     string
	teacher models.User
	parent  models.User
	admin   models.User
}

func newFixture(t *testing.T, opts ...backendtest.Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := backendtest.New(opts...)
	apiURL, _, stop := srv.Serve()
	t.Cleanup(stop)

	return &fixture{
		srv:     srv,
		url:     apiURL,
		teacher: srv.AddUser(models.User{FirstName: "Leila", LastName: "Ahmadi", Role: models.RoleTeacher}),
		parent:  srv.AddUser(models.User{FirstName: "Maryam", LastName: "Rahimi", Role: models.RoleParent}),
		admin:   srv.AddUser(models.User{FirstName: "Root", Role: models.RoleAdmin}),
	}
}

func (f *fixture) client(t *testing.T, u models.User, opts ...api.Option) *api.Client {
	t.Helper()
	token, err := f.srv.Token(u.ID)
	require.NoError(t, err)
	return api.New(f.url, staticToken(token), opts...)
}

func TestCreateConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, f.teacher)
	ctx := context.Background()

	first, err := c.CreateConversation(ctx, f.parent.ID)
	require.NoError(t, err)
	second, err := c.CreateConversation(ctx, f.parent.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// the other side gets the same conversation
	fromParent, err := f.client(t, f.parent).CreateConversation(ctx, f.teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, fromParent.ID)

	convs, err := c.ListConversations(ctx, f.teacher.ID)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestSendListAndMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	teacher := f.client(t, f.teacher)
	parent := f.client(t, f.parent)

	conv, err := teacher.CreateConversation(ctx, f.parent.ID)
	require.NoError(t, err)

	sent, err := teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{Content: "Homework is due Monday", ClientID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, sent.Type)
	assert.False(t, sent.IsRead)
	assert.Equal(t, []string{"c-1"}, f.srv.ClientMessageIDs())

	msgs, err := parent.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Homework is due Monday", msgs[0].Content)

	require.NoError(t, parent.MarkRead(ctx, sent.ID))
	require.NoError(t, parent.MarkRead(ctx, sent.ID))

	// the sender cannot mark their own message
	err = teacher.MarkRead(ctx, sent.ID)
	assert.True(t, errors.Is(err, api.ErrForbidden))

	msgs, err = teacher.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, msgs[0].IsRead)

	convs, err := teacher.ListConversations(ctx, f.teacher.ID)
	require.NoError(t, err)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, sent.ID, convs[0].LastMessage.ID)
}

func TestEditWindowEnforcedByBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	teacher := f.client(t, f.teacher)

	conv, err := teacher.CreateConversation(ctx, f.parent.ID)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.srv.SetClock(func() time.Time { return base })
	msg, err := teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{Content: "draft"})
	require.NoError(t, err)

	f.srv.SetClock(func() time.Time { return base.Add(29 * time.Minute) })
	updated, err := teacher.UpdateMessage(ctx, msg.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Content)
	require.NotNil(t, updated.UpdatedAt)

	f.srv.SetClock(func() time.Time { return base.Add(30 * time.Minute) })
	_, err = teacher.UpdateMessage(ctx, msg.ID, "too late")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "message can no longer be changed", apiErr.Message)

	// admins are not bound by the window
	require.NoError(t, f.client(t, f.admin).DeleteMessage(ctx, msg.ID))
}

func TestUploadAndDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	teacher := f.client(t, f.teacher)

	conv, err := teacher.CreateConversation(ctx, f.parent.ID)
	require.NoError(t, err)

	body := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")
	att, err := teacher.Upload(ctx, `report "final".pdf`, "", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, `report "final".pdf`, att.Name)
	assert.Equal(t, "application/pdf", att.Type)
	assert.Equal(t, int64(len(body)), att.Size)

	msg, err := teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{
		Content:  att.Name,
		Type:     models.MessageTypeFor(att.Type),
		FilePath: att.Path,
		FileName: att.Name,
		FileType: att.Type,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageFile, msg.Type)

	data, err := f.client(t, f.parent).Download(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, body, data)

	_, err = teacher.Download(ctx, 9999)
	assert.True(t, errors.Is(err, api.ErrNotFound))
}

func TestUnauthorizedHook(t *testing.T) {
	f := newFixture(t)

	called := 0
	c := api.New(f.url, staticToken("expired"), api.OnUnauthorized(func() { called++ }))

	_, err := c.ListConversations(context.Background(), f.teacher.ID)
	assert.True(t, errors.Is(err, api.ErrUnauthorized))
	assert.Equal(t, 1, called)
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, backendtest.WithSendRate(limiter.Rate{Period: time.Minute, Limit: 1}))
	ctx := context.Background()
	teacher := f.client(t, f.teacher)

	conv, err := teacher.CreateConversation(ctx, f.parent.ID)
	require.NoError(t, err)

	_, err = teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{Content: "one"})
	require.NoError(t, err)
	_, err = teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{Content: "two"})
	assert.True(t, errors.Is(err, api.ErrRateLimited))
}

func TestAvatarAbsentIsNotAnError(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, f.teacher)

	data, err := c.Avatar(context.Background(), f.parent.ID)
	require.NoError(t, err)
	assert.Nil(t, data)

	f.srv.SetAvatar(f.parent.ID, []byte("GIF89a"))
	data, err = c.Avatar(context.Background(), f.parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("GIF89a"), data)
}

func TestChildName(t *testing.T) {
	f := newFixture(t)
	f.srv.AddChild(f.parent.ID, models.User{FirstName: "Ali", LastName: "Rahimi", Role: models.RoleStudent})

	name, err := f.client(t, f.teacher).ChildName(context.Background(), f.parent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ali Rahimi", name)

	name, err = f.client(t, f.teacher).ChildName(context.Background(), f.teacher.ID)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestGroupConversationAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.srv.AddGroup("Class 5B", f.teacher.ID, f.parent.ID)
	teacher := f.client(t, f.teacher)

	groups, err := teacher.Groups(ctx, f.teacher.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Class 5B", groups[0].Name)

	conv, err := teacher.GroupConversation(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationGroup, conv.Type)
	assert.Equal(t, "Class 5B", conv.Title)

	_, err = teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{Content: "Field trip on Friday"})
	require.NoError(t, err)
	_, err = teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{Content: "Bring lunch"})
	require.NoError(t, err)

	found, err := teacher.SearchMessages(ctx, conv.ID, "friday")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Field trip on Friday", found[0].Content)

	recipients, err := teacher.Recipients(ctx, f.teacher.ID)
	require.NoError(t, err)
	assert.Len(t, recipients, 2)
}

func TestAdminDeleteConversationCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	teacher := f.client(t, f.teacher)

	conv, err := teacher.CreateConversation(ctx, f.parent.ID)
	require.NoError(t, err)
	msg, err := teacher.SendMessage(ctx, conv.ID, api.OutgoingMessage{Content: "hi"})
	require.NoError(t, err)

	err = teacher.DeleteConversation(ctx, conv.ID)
	assert.True(t, errors.Is(err, api.ErrForbidden))

	admin := f.client(t, f.admin)
	renamed, err := admin.UpdateConversation(ctx, conv.ID, "Parent meeting")
	require.NoError(t, err)
	assert.Equal(t, "Parent meeting", renamed.Title)

	require.NoError(t, admin.DeleteConversation(ctx, conv.ID))
	_, ok := f.srv.Message(msg.ID)
	assert.False(t, ok)
	_, err = teacher.GetConversation(ctx, conv.ID)
	assert.True(t, errors.Is(err, api.ErrNotFound))
}

func TestErrorBodyWithoutJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := api.New(ts.URL, staticToken("tok")).GetUser(context.Background(), 1)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.True(t, strings.Contains(apiErr.Error(), "upstream down"))
}

func TestAcceptHeaderFollowsResponseKind(t *testing.T) {
	var mu sync.Mutex
	accepts := make(map[string]string)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		accepts[r.URL.Path] = r.Header.Get("Accept")
		mu.Unlock()
		switch r.URL.Path {
		case "/users/1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user":{"id":1}}`))
		default:
			_, _ = w.Write([]byte("raw"))
		}
	}))
	defer ts.Close()

	client := api.New(ts.URL, staticToken("tok"))
	ctx := context.Background()
	_, err := client.GetUser(ctx, 1)
	require.NoError(t, err)
	_, err = client.Download(ctx, 5)
	require.NoError(t, err)
	_, err = client.Avatar(ctx, 1)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", accepts["/users/1"])
	assert.Equal(t, "*/*", accepts["/messages/5/download"])
	assert.Equal(t, "image/*", accepts["/users/1/avatar"])
}
