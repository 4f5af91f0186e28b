package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanModifyWindow(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := Message{ID: 1, SenderID: 7, Type: MessageText, CreatedAt: created}

	sender := User{ID: 7, Role: RoleStudent}
	other := User{ID: 8, Role: RoleTeacher}
	admin := User{ID: 1, Role: RoleAdmin}

	tests := []struct {
		name  string
		actor User
		at    time.Time
		want  bool
	}{
		{"sender right after send", sender, created.Add(time.Second), true},
		{"sender one second before window ends", sender, created.Add(EditWindow - time.Second), true},
		{"sender exactly at window end", sender, created.Add(EditWindow), false},
		{"sender after window", sender, created.Add(2 * time.Hour), false},
		{"someone else inside window", other, created.Add(time.Minute), false},
		{"admin inside window", admin, created.Add(time.Minute), true},
		{"admin long after window", admin, created.Add(30 * 24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanModify(msg, tt.actor, tt.at, EditWindow))
			assert.Equal(t, tt.want, CanDelete(msg, tt.actor, tt.at, EditWindow))
		})
	}
}

func TestFileMessagesAreNeverEditable(t *testing.T) {
	created := time.Now()
	admin := User{ID: 1, Role: RoleAdmin}
	sender := User{ID: 7, Role: RoleParent}

	for _, msg := range []Message{
		{SenderID: 7, Type: MessageFile, FilePath: "uploads/a.pdf", CreatedAt: created},
		{SenderID: 7, Type: MessageImage, CreatedAt: created},
		{SenderID: 7, Type: MessageText, FilePath: "uploads/b.png", CreatedAt: created},
		{SenderID: 7, Type: MessageAudio, CreatedAt: created},
	} {
		assert.False(t, CanEdit(msg, sender, created, EditWindow), "sender edit %+v", msg)
		assert.False(t, CanEdit(msg, admin, created.Add(time.Hour), EditWindow), "admin edit %+v", msg)
		assert.True(t, CanDelete(msg, sender, created, EditWindow), "sender delete %+v", msg)
	}
}

func TestOtherParticipant(t *testing.T) {
	conv := Conversation{ID: 3, Type: ConversationDirect, Participants: []int{4, 9}}

	other, ok := conv.OtherParticipant(4)
	assert.True(t, ok)
	assert.Equal(t, 9, other)

	group := Conversation{ID: 5, Type: ConversationGroup, Participants: []int{4, 9, 10}}
	_, ok = group.OtherParticipant(4)
	assert.False(t, ok)
}

func TestMessageTypeFor(t *testing.T) {
	assert.Equal(t, MessageImage, MessageTypeFor("image/png"))
	assert.Equal(t, MessageImage, MessageTypeFor("IMAGE/JPEG"))
	assert.Equal(t, MessageFile, MessageTypeFor("application/pdf"))
	assert.Equal(t, MessageFile, MessageTypeFor(""))
}

func TestDisplayNameFallsBackToPlaceholder(t *testing.T) {
	assert.Equal(t, "Sara Karimi", User{ID: 2, FirstName: "Sara", LastName: "Karimi"}.DisplayName())
	assert.Equal(t, "User #12", User{ID: 12}.DisplayName())
}
