package messaging

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/backendtest"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sandbox struct {
	srv     *backendtest.Server
	url     string
	teacher models.User
	parent  models.User
}

func newSandbox(t *testing.T) *sandbox {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := backendtest.New()
	apiURL, _, stop := srv.Serve()
	t.Cleanup(stop)

	s := &sandbox{srv: srv, url: apiURL}
	s.teacher = srv.AddUser(models.User{FirstName: "Leila", LastName: "Ahmadi", Role: models.RoleTeacher})
	s.parent = srv.AddUser(models.User{FirstName: "Maryam", LastName: "Rahimi", Role: models.RoleParent})
	srv.AddChild(s.parent.ID, models.User{FirstName: "Ali", LastName: "Rahimi", Role: models.RoleStudent})
	return s
}

func (s *sandbox) orchestrator(t *testing.T, u models.User, opts ...Option) (*Orchestrator, *api.Client) {
	t.Helper()
	token, err := s.srv.Token(u.ID)
	require.NoError(t, err)
	sess := session.NewStatic(token, u)
	client := api.New(s.url, sess)
	return New(client, sess, opts...), client
}

func TestConversationRoundTrip(t *testing.T) {
	s := newSandbox(t)
	ctx := context.Background()

	dir := NewMemoryDirectory(s.parent)
	teacherView, client := s.orchestrator(t, s.teacher, WithDirectory(dir))
	teacherView.childNamer = client

	require.NoError(t, teacherView.StartConversation(ctx, s.parent.ID))
	convID := teacherView.ActiveID()
	require.NotZero(t, convID)

	for _, text := range []string{"Homework is on page 12", "Please sign the form", "Thanks!"} {
		require.NoError(t, teacherView.SendText(ctx, text))
	}

	state := teacherView.State()
	require.Len(t, state.Messages, 3)
	assert.Equal(t, "Homework is on page 12", state.Messages[0].Content)
	assert.Equal(t, "Thanks!", state.Messages[2].Content)
	require.Len(t, state.Conversations, 1)
	assert.Equal(t, "Maryam Rahimi (Ali Rahimi)", state.Conversations[0].Name())
	assert.Len(t, s.srv.ClientMessageIDs(), 3)

	parentView, _ := s.orchestrator(t, s.parent)
	views, err := parentView.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, "Thanks!", views[0].LastMessage.Content)

	require.NoError(t, parentView.SelectConversation(ctx, convID))
	for _, m := range s.srv.Messages(convID) {
		assert.True(t, m.IsRead, "message %d should be read on the backend", m.ID)
	}

	require.NoError(t, teacherView.Refresh(ctx))
	for _, m := range teacherView.State().Messages {
		assert.True(t, m.IsRead)
	}
}

func TestMarkReadFailureDoesNotBlockOthers(t *testing.T) {
	s := newSandbox(t)
	ctx := context.Background()

	conv := s.seedConversation(t, 3)
	s.srv.FailNext(http.MethodPut, "/messages/:id/read", http.StatusInternalServerError)

	parentView, _ := s.orchestrator(t, s.parent)
	require.NoError(t, parentView.SelectConversation(ctx, conv.ID))

	assert.Equal(t, 3, s.srv.Calls(http.MethodPut, "/messages/:id/read"))
	read := 0
	for _, m := range s.srv.Messages(conv.ID) {
		if m.IsRead {
			read++
		}
	}
	assert.Equal(t, 2, read)
	assert.Empty(t, parentView.State().Error)
}

func TestSendFailureAgainstBackend(t *testing.T) {
	s := newSandbox(t)
	ctx := context.Background()
	conv := s.seedConversation(t, 0)

	teacherView, _ := s.orchestrator(t, s.teacher)
	require.NoError(t, teacherView.SelectConversation(ctx, conv.ID))

	s.srv.FailNext(http.MethodPost, "/conversations/:id/messages", http.StatusBadGateway)
	teacherView.SetDraft("keep me")
	require.Error(t, teacherView.SendDraft(ctx))
	assert.Equal(t, "keep me", teacherView.State().Composer.Draft)
	assert.Empty(t, s.srv.Messages(conv.ID))

	require.NoError(t, teacherView.SendDraft(ctx))
	assert.Empty(t, teacherView.State().Composer.Draft)
	assert.Len(t, s.srv.Messages(conv.ID), 1)
}

func TestSendFailureAfterUploadAddsNothing(t *testing.T) {
	s := newSandbox(t)
	ctx := context.Background()
	conv := s.seedConversation(t, 0)

	teacherView, _ := s.orchestrator(t, s.teacher)
	require.NoError(t, teacherView.SelectConversation(ctx, conv.ID))

	s.srv.FailNext(http.MethodPost, "/conversations/:id/messages", http.StatusBadGateway)
	pdf := []byte("%PDF-1.4\n%%EOF\n")
	err := teacherView.SendFile(ctx, File{Name: "timetable.pdf", Size: int64(len(pdf)), Body: bytes.NewReader(pdf)})
	require.Error(t, err)

	assert.Empty(t, teacherView.State().Messages)
	assert.NotEmpty(t, teacherView.State().Error)
	assert.Empty(t, s.srv.Messages(conv.ID))
	// the uploaded file stays orphaned on the server
	assert.Equal(t, 1, s.srv.Calls(http.MethodPost, "/upload"))
}

func TestStartConversationIsIdempotent(t *testing.T) {
	s := newSandbox(t)
	ctx := context.Background()

	teacherView, _ := s.orchestrator(t, s.teacher)
	require.NoError(t, teacherView.StartConversation(ctx, s.parent.ID))
	first := teacherView.ActiveID()
	require.NotZero(t, first)

	require.NoError(t, teacherView.StartConversation(ctx, s.parent.ID))
	assert.Equal(t, first, teacherView.ActiveID())
	assert.Len(t, teacherView.State().Conversations, 1)

	s.srv.FailNext(http.MethodPost, "/conversations", http.StatusInternalServerError)
	require.Error(t, teacherView.StartConversation(ctx, s.parent.ID))
	assert.Equal(t, first, teacherView.ActiveID())
	assert.NotEmpty(t, teacherView.State().Error)
	assert.Len(t, teacherView.State().Conversations, 1)
}

func TestAttachmentRoundTrip(t *testing.T) {
	s := newSandbox(t)
	ctx := context.Background()
	conv := s.seedConversation(t, 0)

	teacherView, _ := s.orchestrator(t, s.teacher)
	require.NoError(t, teacherView.SelectConversation(ctx, conv.ID))

	pdf := []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")
	require.NoError(t, teacherView.SendFile(ctx, File{Name: "report card.pdf", Size: int64(len(pdf)), Body: bytes.NewReader(pdf)}))

	msgs := teacherView.State().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageFile, msgs[0].Type)
	assert.Equal(t, "application/pdf", msgs[0].FileType)
	assert.False(t, teacherView.CanEdit(msgs[0]))

	dir := t.TempDir()
	parentView, _ := s.orchestrator(t, s.parent, WithSaver(DirSaver{Dir: dir}))
	path, err := parentView.DownloadAttachment(ctx, msgs[0].ID, msgs[0].FileName)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

// seedConversation creates a teacher/parent conversation with n unread
// messages from the teacher.
func (s *sandbox) seedConversation(t *testing.T, n int) models.Conversation {
	t.Helper()
	token, err := s.srv.Token(s.teacher.ID)
	require.NoError(t, err)
	client := api.New(s.url, session.NewStatic(token, s.teacher))
	conv, err := client.CreateConversation(context.Background(), s.parent.ID)
	require.NoError(t, err)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		s.srv.SeedMessage(models.Message{
			ConversationID: conv.ID,
			SenderID:       s.teacher.ID,
			Content:        "note",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}
	return conv
}
