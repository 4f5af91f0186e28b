package messaging

import (
	"context"
	"time"

	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ListConversations loads the current user's conversations in backend order.
// On failure the previous list is kept.
func (o *Orchestrator) ListConversations(ctx context.Context) ([]ConversationView, error) {
	me, err := o.me()
	if err != nil {
		return nil, o.reject(err)
	}
	defer o.begin()()

	convs, err := o.backend.ListConversations(ctx, me.ID)
	if err != nil {
		return nil, o.fail("failed to fetch conversations", err)
	}

	views := o.resolve(ctx, me, convs)

	o.mu.Lock()
	o.conversations = views
	out := make([]ConversationView, len(views))
	for i, v := range views {
		out[i] = copyView(v)
	}
	o.mu.Unlock()
	return out, nil
}

// refreshConversations reloads the list after a change. Failures are only
// logged.
func (o *Orchestrator) refreshConversations(ctx context.Context) {
	me, err := o.me()
	if err != nil {
		return
	}
	convs, err := o.backend.ListConversations(ctx, me.ID)
	if err != nil {
		logger.Debug().Err(err).Msg("conversation list refresh failed")
		return
	}
	views := o.resolve(ctx, me, convs)

	o.mu.Lock()
	o.conversations = views
	o.mu.Unlock()
}

// resolve names the other participant of each direct conversation from the
// directory. Parents are labelled with their child's name when it can be
// found.
func (o *Orchestrator) resolve(ctx context.Context, me models.User, convs []models.Conversation) []ConversationView {
	views := make([]ConversationView, 0, len(convs))
	children := make(map[int]string)

	for _, c := range convs {
		v := ConversationView{Conversation: c}
		otherID, ok := c.OtherParticipant(me.ID)
		if ok {
			u, known := o.dir.User(otherID)
			if !known {
				u = models.User{ID: otherID}
			}
			if known && u.Role == models.RoleParent && u.ChildName == "" {
				name, seen := children[otherID]
				if !seen {
					name = o.childName(ctx, otherID)
					children[otherID] = name
				}
				if name != "" {
					u.ChildName = name
					o.dir.Remember(u)
				}
			}
			v.Other = &u
		}
		views = append(views, v)
	}
	return views
}

func (o *Orchestrator) childName(ctx context.Context, parentID int) string {
	if o.childNamer == nil {
		return ""
	}
	name, err := o.childNamer.ChildName(ctx, parentID)
	if err != nil {
		logger.Debug().Err(err).Int("parent_id", parentID).Msg("child name lookup failed")
		return ""
	}
	return name
}

// StartConversation opens the direct conversation with otherUserID, creating
// it if needed. On failure the current selection is unchanged.
func (o *Orchestrator) StartConversation(ctx context.Context, otherUserID int) error {
	me, err := o.me()
	if err != nil {
		return o.reject(err)
	}

	done := o.begin()
	conv, err := o.backend.CreateConversation(ctx, otherUserID)
	done()
	if err != nil {
		return o.fail("failed to open conversation", err)
	}

	o.upsertConversation(ctx, me, conv)
	return o.SelectConversation(ctx, conv.ID)
}

// SelectGroup opens the conversation of a class group.
func (o *Orchestrator) SelectGroup(ctx context.Context, groupID int) error {
	me, err := o.me()
	if err != nil {
		return o.reject(err)
	}

	done := o.begin()
	conv, err := o.backend.GroupConversation(ctx, groupID)
	done()
	if err != nil {
		return o.fail("failed to open conversation", err)
	}

	o.upsertConversation(ctx, me, conv)
	return o.SelectConversation(ctx, conv.ID)
}

func (o *Orchestrator) upsertConversation(ctx context.Context, me models.User, conv models.Conversation) {
	view := o.resolve(ctx, me, []models.Conversation{conv})[0]

	o.mu.Lock()
	defer o.mu.Unlock()
	if i := o.conversationIndex(conv.ID); i >= 0 {
		if view.LastMessage == nil {
			view.LastMessage = o.conversations[i].LastMessage
		}
		o.conversations[i] = view
		return
	}
	o.conversations = append([]ConversationView{view}, o.conversations...)
}

// SelectConversation makes conversationID active, loads its messages and marks
// every unread message from someone else as read. A response that arrives
// after another conversation was selected is dropped.
func (o *Orchestrator) SelectConversation(ctx context.Context, conversationID int) error {
	me, err := o.me()
	if err != nil {
		return o.reject(err)
	}

	o.mu.Lock()
	o.generation++
	gen := o.generation
	if o.activeID != conversationID {
		o.messages = nil
		o.editDrafts = make(map[int]string)
	}
	o.activeID = conversationID
	o.emojiOpen = false
	o.mu.Unlock()

	return o.loadMessages(ctx, me, conversationID, gen)
}

// Refresh reloads the conversation list and the active conversation.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	me, err := o.me()
	if err != nil {
		return o.reject(err)
	}
	if _, err := o.ListConversations(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	id, gen := o.activeID, o.generation
	o.mu.Unlock()
	if id == 0 {
		return nil
	}
	return o.loadMessages(ctx, me, id, gen)
}

func (o *Orchestrator) loadMessages(ctx context.Context, me models.User, conversationID int, gen uint64) error {
	done := o.begin()
	msgs, err := o.backend.ListMessages(ctx, conversationID)
	done()

	o.mu.Lock()
	if gen != o.generation || conversationID != o.activeID {
		o.mu.Unlock()
		logger.Debug().Int("conversation_id", conversationID).Msg("dropping stale message list")
		return nil
	}
	o.mu.Unlock()

	if err != nil {
		return o.fail("failed to fetch messages", err)
	}

	o.mu.Lock()
	o.applyMessages(msgs)
	var unread []int
	for _, e := range o.messages {
		if !e.msg.IsRead && e.msg.SenderID != me.ID {
			unread = append(unread, e.msg.ID)
		}
	}
	o.mu.Unlock()

	o.markRead(ctx, conversationID, unread)
	return nil
}

// applyMessages replaces the view with msgs. Messages this orchestrator sent
// that are newer than anything in the list are kept, and no message that was
// seen read goes back to unread. Must be called with o.mu held.
func (o *Orchestrator) applyMessages(msgs []models.Message) {
	fetched := make(map[int]bool, len(msgs))
	next := make([]entry, 0, len(msgs))
	var newest time.Time
	for _, m := range msgs {
		if fetched[m.ID] {
			continue
		}
		fetched[m.ID] = true
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
		if m.IsRead {
			o.seenRead[m.ID] = true
		} else if o.seenRead[m.ID] {
			m.IsRead = true
		}
		var seq uint64
		if i := o.messageIndex(m.ID); i >= 0 {
			seq = o.messages[i].seq
		}
		next = append(next, entry{msg: m, seq: seq})
	}
	for _, e := range o.messages {
		if e.seq > 0 && !fetched[e.msg.ID] && !e.msg.CreatedAt.Before(newest) {
			next = append(next, e)
		}
	}
	o.messages = next
}

// markRead issues one mark-as-read call per message with bounded
// concurrency. Individual failures are logged and do not stop the others.
func (o *Orchestrator) markRead(ctx context.Context, conversationID int, ids []int) {
	if len(ids) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(o.readConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := o.backend.MarkRead(ctx, id); err != nil {
				logger.Warn().Err(err).Int("message_id", id).Msg("failed to mark message as read")
				return nil
			}
			o.mu.Lock()
			o.seenRead[id] = true
			if o.activeID == conversationID {
				if i := o.messageIndex(id); i >= 0 {
					o.messages[i].msg.IsRead = true
				}
			}
			o.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// ListRecipients returns the users the current user may write to and adds
// them to the directory.
func (o *Orchestrator) ListRecipients(ctx context.Context) ([]models.User, error) {
	me, err := o.me()
	if err != nil {
		return nil, o.reject(err)
	}
	defer o.begin()()

	users, err := o.backend.Recipients(ctx, me.ID)
	if err != nil {
		return nil, o.fail("failed to fetch recipients", err)
	}
	o.dir.Remember(users...)
	return users, nil
}

func (o *Orchestrator) ListGroups(ctx context.Context) ([]models.Group, error) {
	me, err := o.me()
	if err != nil {
		return nil, o.reject(err)
	}
	defer o.begin()()

	groups, err := o.backend.Groups(ctx, me.ID)
	if err != nil {
		return nil, o.fail("failed to fetch groups", err)
	}
	return groups, nil
}

// SearchMessages searches the active conversation. A blank query returns
// nothing.
func (o *Orchestrator) SearchMessages(ctx context.Context, query string) ([]models.Message, error) {
	if _, err := o.me(); err != nil {
		return nil, o.reject(err)
	}
	o.mu.Lock()
	id := o.activeID
	o.mu.Unlock()
	if id == 0 {
		return nil, o.reject(ErrNoConversation)
	}
	if isBlank(query) {
		return nil, nil
	}
	defer o.begin()()

	msgs, err := o.backend.SearchMessages(ctx, id, query)
	if err != nil {
		return nil, o.fail("failed to search messages", err)
	}

	o.mu.Lock()
	for i := range msgs {
		if o.seenRead[msgs[i].ID] {
			msgs[i].IsRead = true
		}
	}
	o.mu.Unlock()
	return msgs, nil
}
