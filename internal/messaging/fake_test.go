package messaging

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/models"
)

var errBoom = errors.New("boom")

// fakeBackend is an in-memory Backend with failure and delay hooks.
type fakeBackend struct {
	mu sync.Mutex

	conversations []models.Conversation
	messages      map[int][]models.Message
	recipients    []models.User
	groups        []models.Group
	download      []byte
	nextID        int
	now           func() time.Time

	listConversationsErr error
	sendErr              error
	uploadErr            error
	downloadErr          error
	markErr              map[int]error

	// beforeListMessages and beforeSend run outside the lock and may block.
	beforeListMessages func(conversationID int)
	beforeSend         func(msg api.OutgoingMessage)

	calls    map[string]int
	marked   []int
	uploaded []byte
	sent     []api.OutgoingMessage
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		messages: make(map[int][]models.Message),
		markErr:  make(map[int]error),
		calls:    make(map[string]int),
		nextID:   100,
		now:      time.Now,
	}
}

func (f *fakeBackend) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) ListConversations(_ context.Context, _ int) ([]models.Conversation, error) {
	f.count("ListConversations")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listConversationsErr != nil {
		return nil, f.listConversationsErr
	}
	return append([]models.Conversation(nil), f.conversations...), nil
}

func (f *fakeBackend) CreateConversation(_ context.Context, otherUserID int) (models.Conversation, error) {
	f.count("CreateConversation")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.Type == models.ConversationDirect && c.HasParticipant(otherUserID) {
			return c, nil
		}
	}
	f.nextID++
	c := models.Conversation{ID: f.nextID, Participants: []int{1, otherUserID}, Type: models.ConversationDirect}
	f.conversations = append(f.conversations, c)
	return c, nil
}

func (f *fakeBackend) GroupConversation(_ context.Context, groupID int) (models.Conversation, error) {
	f.count("GroupConversation")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.GroupID != nil && *c.GroupID == groupID {
			return c, nil
		}
	}
	f.nextID++
	gid := groupID
	c := models.Conversation{ID: f.nextID, GroupID: &gid, Type: models.ConversationGroup, Title: "Group"}
	f.conversations = append(f.conversations, c)
	return c, nil
}

func (f *fakeBackend) UpdateConversation(_ context.Context, id int, title string) (models.Conversation, error) {
	f.count("UpdateConversation")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.conversations {
		if f.conversations[i].ID == id {
			f.conversations[i].Title = title
			return f.conversations[i], nil
		}
	}
	return models.Conversation{}, &api.Error{Status: 404, Message: "conversation not found"}
}

func (f *fakeBackend) DeleteConversation(_ context.Context, id int) error {
	f.count("DeleteConversation")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.conversations {
		if f.conversations[i].ID == id {
			f.conversations = append(f.conversations[:i], f.conversations[i+1:]...)
			delete(f.messages, id)
			return nil
		}
	}
	return &api.Error{Status: 404, Message: "conversation not found"}
}

func (f *fakeBackend) ListMessages(_ context.Context, conversationID int) ([]models.Message, error) {
	f.count("ListMessages")
	if hook := f.beforeListMessages; hook != nil {
		hook(conversationID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakeBackend) SearchMessages(_ context.Context, conversationID int, _ string) ([]models.Message, error) {
	f.count("SearchMessages")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakeBackend) SendMessage(_ context.Context, conversationID int, msg api.OutgoingMessage) (models.Message, error) {
	f.count("SendMessage")
	if hook := f.beforeSend; hook != nil {
		hook(msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.nextID++
	m := models.Message{
		ID:             f.nextID,
		ConversationID: conversationID,
		SenderID:       1,
		Content:        msg.Content,
		Type:           msg.Type,
		FilePath:       msg.FilePath,
		FileName:       msg.FileName,
		FileType:       msg.FileType,
		CreatedAt:      f.now(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], m)
	for i := range f.conversations {
		if f.conversations[i].ID == conversationID {
			last := m
			f.conversations[i].LastMessage = &last
		}
	}
	return m, nil
}

func (f *fakeBackend) UpdateMessage(_ context.Context, messageID int, content string) (models.Message, error) {
	f.count("UpdateMessage")
	f.mu.Lock()
	defer f.mu.Unlock()
	for cid, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				now := f.now()
				f.messages[cid][i].Content = content
				f.messages[cid][i].UpdatedAt = &now
				return f.messages[cid][i], nil
			}
		}
	}
	return models.Message{}, &api.Error{Status: 404, Message: "message not found"}
}

func (f *fakeBackend) DeleteMessage(_ context.Context, messageID int) error {
	f.count("DeleteMessage")
	f.mu.Lock()
	defer f.mu.Unlock()
	for cid, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				f.messages[cid] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return &api.Error{Status: 404, Message: "message not found"}
}

func (f *fakeBackend) MarkRead(_ context.Context, messageID int) error {
	f.count("MarkRead")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErr[messageID]; err != nil {
		return err
	}
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *fakeBackend) Upload(_ context.Context, fileName, contentType string, body io.Reader) (models.Attachment, error) {
	f.count("Upload")
	data, err := io.ReadAll(body)
	if err != nil {
		return models.Attachment{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return models.Attachment{}, f.uploadErr
	}
	f.uploaded = data
	return models.Attachment{Path: "uploads/" + fileName, Name: fileName, Type: contentType, Size: int64(len(data))}, nil
}

func (f *fakeBackend) Download(_ context.Context, _ int) ([]byte, error) {
	f.count("Download")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.download, nil
}

func (f *fakeBackend) Recipients(_ context.Context, _ int) ([]models.User, error) {
	f.count("Recipients")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.User(nil), f.recipients...), nil
}

func (f *fakeBackend) Groups(_ context.Context, _ int) ([]models.Group, error) {
	f.count("Groups")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Group(nil), f.groups...), nil
}

type childNamerFunc func(parentID int) (string, error)

func (f childNamerFunc) ChildName(_ context.Context, parentID int) (string, error) {
	return f(parentID)
}

type memorySaver struct {
	name string
	data []byte
}

func (s *memorySaver) Save(name string, data []byte) (string, error) {
	s.name, s.data = name, data
	return "/tmp/" + name, nil
}
