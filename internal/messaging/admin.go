package messaging

import (
	"context"
	"strings"
)

func (o *Orchestrator) requireAdmin() error {
	me, err := o.me()
	if err != nil {
		return o.reject(err)
	}
	if !me.IsAdmin() {
		return o.reject(ErrNotAdmin)
	}
	return nil
}

// BeginTitleEdit opens a title buffer for conversationID. Admins only.
func (o *Orchestrator) BeginTitleEdit(conversationID int) error {
	if err := o.requireAdmin(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	title := ""
	if i := o.conversationIndex(conversationID); i >= 0 {
		title = o.conversations[i].Title
	}
	o.titleDrafts[conversationID] = title
	return nil
}

func (o *Orchestrator) SetTitleDraft(conversationID int, title string) {
	o.mu.Lock()
	if _, ok := o.titleDrafts[conversationID]; ok {
		o.titleDrafts[conversationID] = title
	}
	o.mu.Unlock()
}

func (o *Orchestrator) CancelTitleEdit(conversationID int) {
	o.mu.Lock()
	delete(o.titleDrafts, conversationID)
	o.mu.Unlock()
}

// SaveTitle submits the title buffer of conversationID.
func (o *Orchestrator) SaveTitle(ctx context.Context, conversationID int) error {
	o.mu.Lock()
	title, ok := o.titleDrafts[conversationID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if err := o.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		return err
	}
	o.CancelTitleEdit(conversationID)
	return nil
}

func (o *Orchestrator) UpdateConversationTitle(ctx context.Context, conversationID int, title string) error {
	if err := o.requireAdmin(); err != nil {
		return err
	}
	title = strings.TrimSpace(title)

	done := o.begin()
	conv, err := o.backend.UpdateConversation(ctx, conversationID, title)
	done()
	if err != nil {
		return o.fail("failed to update conversation", err)
	}
	if conv.ID == 0 {
		conv.Title = title
	}

	o.mu.Lock()
	if i := o.conversationIndex(conversationID); i >= 0 {
		o.conversations[i].Title = conv.Title
	}
	o.mu.Unlock()
	return nil
}

// DeleteConversation removes a conversation and its messages after the admin
// confirms. If it was the active conversation the selection is cleared.
func (o *Orchestrator) DeleteConversation(ctx context.Context, conversationID int) error {
	if err := o.requireAdmin(); err != nil {
		return err
	}
	if !o.confirm("Delete this conversation and all of its messages?") {
		return ErrCancelled
	}

	done := o.begin()
	err := o.backend.DeleteConversation(ctx, conversationID)
	done()
	if err != nil {
		return o.fail("failed to delete conversation", err)
	}

	o.mu.Lock()
	o.dropConversation(conversationID)
	o.mu.Unlock()
	return nil
}

// dropConversation must be called with o.mu held.
func (o *Orchestrator) dropConversation(conversationID int) {
	if i := o.conversationIndex(conversationID); i >= 0 {
		o.conversations = append(o.conversations[:i], o.conversations[i+1:]...)
	}
	delete(o.titleDrafts, conversationID)
	if o.activeID == conversationID {
		o.activeID = 0
		o.generation++
		o.messages = nil
		o.editDrafts = make(map[int]string)
	}
}
