package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// EditWindow is how long a non-admin sender may edit or delete a message.
	EditWindow = 30 * time.Minute

	// MaxUploadSize is the attachment size ceiling (50 MB).
	MaxUploadSize int64 = 50 << 20
)

type Role string

const (
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

type User struct {
	ID        int    `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
	ChildName string `json:"child_name,omitempty"`
}

// DisplayName returns "First Last", or a placeholder when both are empty.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return PlaceholderName(u.ID)
	}
	return name
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// PlaceholderName is shown for participants missing from the local directory.
func PlaceholderName(userID int) string {
	return fmt.Sprintf("User #%d", userID)
}

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type Conversation struct {
	ID           int              `json:"id"`
	Participants []int            `json:"participants,omitempty"`
	GroupID      *int             `json:"group_id,omitempty"`
	Title        string           `json:"title,omitempty"`
	Type         ConversationType `json:"type"`
	LastMessage  *Message         `json:"last_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// OtherParticipant returns the participant of a direct conversation that is not me.
func (c Conversation) OtherParticipant(me int) (int, bool) {
	if c.Type == ConversationGroup {
		return 0, false
	}
	for _, id := range c.Participants {
		if id != me {
			return id, true
		}
	}
	return 0, false
}

func (c Conversation) HasParticipant(userID int) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
)

type Message struct {
	ID             int         `json:"id"`
	ConversationID int         `json:"conversation_id"`
	SenderID       int         `json:"sender_id"`
	Content        string      `json:"content,omitempty"`
	Type           MessageType `json:"type"`
	IsRead         bool        `json:"is_read"`
	FilePath       string      `json:"file_path,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
	FileType       string      `json:"file_type,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      *time.Time  `json:"updated_at,omitempty"`
}

// HasFile reports whether the message carries an attachment.
func (m Message) HasFile() bool {
	if m.FilePath != "" {
		return true
	}
	switch m.Type {
	case MessageImage, MessageFile, MessageAudio:
		return true
	}
	return false
}

// Attachment is the metadata returned by an upload.
type Attachment struct {
	Path string `json:"file_path"`
	Name string `json:"file_name"`
	Type string `json:"file_type"`
	Size int64  `json:"file_size"`
}

// MessageTypeFor classifies an attachment by MIME type.
func MessageTypeFor(mimeType string) MessageType {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return MessageImage
	}
	return MessageFile
}

type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CanModify reports whether actor may edit or delete m at now. Admins are not
// bound by the window; everyone else must be the sender and act before
// CreatedAt+window.
func CanModify(m Message, actor User, now time.Time, window time.Duration) bool {
	if actor.IsAdmin() {
		return true
	}
	if m.SenderID != actor.ID {
		return false
	}
	return now.Sub(m.CreatedAt) < window
}

// CanEdit is CanModify restricted to messages without attachments.
func CanEdit(m Message, actor User, now time.Time, window time.Duration) bool {
	return !m.HasFile() && CanModify(m, actor, now, window)
}

func CanDelete(m Message, actor User, now time.Time, window time.Duration) bool {
	return CanModify(m, actor, now, window)
}
