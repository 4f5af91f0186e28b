package backendtest

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/4xmen/kelasyar/internal/models"
)

type storedFile struct {
	attachment models.Attachment
	data       []byte
}

// store is the backend's in-memory state.
type store struct {
	mu sync.RWMutex

	nextUserID, nextConvID, nextMsgID, nextGroupID int

	users         map[int]models.User
	children      map[int][]int
	groups        map[int]models.Group
	groupMembers  map[int][]int
	avatars       map[int][]byte
	conversations map[int]*models.Conversation
	messages      map[int]*models.Message
	files         map[string]storedFile
}

func newStore() *store {
	return &store{
		users:         make(map[int]models.User),
		children:      make(map[int][]int),
		groups:        make(map[int]models.Group),
		groupMembers:  make(map[int][]int),
		avatars:       make(map[int][]byte),
		conversations: make(map[int]*models.Conversation),
		messages:      make(map[int]*models.Message),
		files:         make(map[string]storedFile),
	}
}

func (s *store) user(id int) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *store) conversation(id int) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	return copyConversation(c), true
}

func (s *store) message(id int) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

func (s *store) conversationsFor(userID int) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Conversation{}
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// directConversation returns the existing direct conversation between a and b,
// or creates one. created reports which.
func (s *store) directConversation(a, b int, now time.Time) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.Type == models.ConversationDirect && len(c.Participants) == 2 && c.HasParticipant(a) && c.HasParticipant(b) {
			return copyConversation(c), false
		}
	}

	s.nextConvID++
	c := &models.Conversation{
		ID:           s.nextConvID,
		Participants: []int{a, b},
		Type:         models.ConversationDirect,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[c.ID] = c
	return copyConversation(c), true
}

func (s *store) groupConversation(groupID int, now time.Time) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return models.Conversation{}, false
	}
	for _, c := range s.conversations {
		if c.GroupID != nil && *c.GroupID == groupID {
			c.Participants = append([]int(nil), s.groupMembers[groupID]...)
			return copyConversation(c), true
		}
	}

	s.nextConvID++
	gid := groupID
	c := &models.Conversation{
		ID:           s.nextConvID,
		Participants: append([]int(nil), s.groupMembers[groupID]...),
		GroupID:      &gid,
		Title:        g.Name,
		Type:         models.ConversationGroup,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[c.ID] = c
	return copyConversation(c), true
}

func (s *store) setTitle(id int, title string, now time.Time) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	c.Title = title
	c.UpdatedAt = now
	return copyConversation(c), true
}

// deleteConversation removes the conversation and all of its messages.
func (s *store) deleteConversation(id int) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	for mid, m := range s.messages {
		if m.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	delete(s.conversations, id)
	return copyConversation(c), true
}

func (s *store) messagesIn(conversationID int, query string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	out := []models.Message{}
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(m.Content), query) && !strings.Contains(strings.ToLower(m.FileName), query) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *store) addMessage(m models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMsgID++
	m.ID = s.nextMsgID
	stored := m
	s.messages[m.ID] = &stored

	if c, ok := s.conversations[m.ConversationID]; ok {
		last := stored
		c.LastMessage = &last
		if m.CreatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = m.CreatedAt
		}
	}
	return stored
}

func (s *store) updateMessage(id int, content string, now time.Time) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, false
	}
	m.Content = content
	t := now
	m.UpdatedAt = &t
	s.refreshLastMessage(m.ConversationID)
	return *m, true
}

func (s *store) deleteMessage(id int) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, false
	}
	delete(s.messages, id)
	s.refreshLastMessage(m.ConversationID)
	return *m, true
}

// markRead sets the read flag. It never clears it.
func (s *store) markRead(id int) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return models.Message{}, false
	}
	m.IsRead = true
	return *m, true
}

// refreshLastMessage must be called with s.mu held.
func (s *store) refreshLastMessage(conversationID int) {
	c, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	var last *models.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) || (m.CreatedAt.Equal(last.CreatedAt) && m.ID > last.ID) {
			last = m
		}
	}
	if last == nil {
		c.LastMessage = nil
		return
	}
	cp := *last
	c.LastMessage = &cp
}

func (s *store) recipientsFor(userID int) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.User{}
	for id, u := range s.users {
		if id != userID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *store) groupsFor(userID int) []models.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Group{}
	for gid, members := range s.groupMembers {
		for _, m := range members {
			if m == userID {
				out = append(out, s.groups[gid])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *store) isGroupMember(groupID, userID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.groupMembers[groupID] {
		if m == userID {
			return true
		}
	}
	return false
}

func (s *store) childrenOf(parentID int) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.User{}
	for _, id := range s.children[parentID] {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

func (s *store) avatar(userID int) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.avatars[userID]
	return data, ok
}

func (s *store) putFile(f storedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.attachment.Path] = f
}

func (s *store) file(path string) (storedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[path]
	return f, ok
}

func copyConversation(c *models.Conversation) models.Conversation {
	out := *c
	out.Participants = append([]int(nil), c.Participants...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return out
}
