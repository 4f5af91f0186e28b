package messaging

import (
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/logger"
)

// ApplyEvent folds a pushed change into the view. It does no I/O.
func (o *Orchestrator) ApplyEvent(ev models.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Type {
	case models.EventMessage:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		if o.seenRead[msg.ID] {
			msg.IsRead = true
		}
		if i := o.conversationIndex(msg.ConversationID); i >= 0 {
			last := o.conversations[i].LastMessage
			if last == nil || !msg.CreatedAt.Before(last.CreatedAt) {
				m := msg
				o.conversations[i].LastMessage = &m
			}
		}
		if o.activeID == msg.ConversationID && o.messageIndex(msg.ID) < 0 {
			o.messages = append(o.messages, entry{msg: msg})
		}

	case models.EventMessageUpdated:
		if ev.Message == nil {
			return
		}
		if i := o.messageIndex(ev.Message.ID); i >= 0 {
			m := &o.messages[i].msg
			m.Content = ev.Message.Content
			m.UpdatedAt = ev.Message.UpdatedAt
		}

	case models.EventMessageDeleted:
		if i := o.messageIndex(ev.MessageID); i >= 0 {
			o.messages = append(o.messages[:i], o.messages[i+1:]...)
		}
		delete(o.editDrafts, ev.MessageID)

	case models.EventRead:
		o.seenRead[ev.MessageID] = true
		if i := o.messageIndex(ev.MessageID); i >= 0 {
			o.messages[i].msg.IsRead = true
		}

	case models.EventConversationDeleted:
		o.dropConversation(ev.ConversationID)

	default:
		logger.Debug().Str("type", string(ev.Type)).Msg("ignoring unknown push event")
	}
}
