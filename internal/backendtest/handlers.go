package backendtest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var ErrUnknownUser = errors.New("unknown user")

func paramID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// participantConversation loads the conversation named by :id and checks that
// the caller takes part in it.
func (s *Server) participantConversation(c *gin.Context, id int) (models.Conversation, bool) {
	conv, ok := s.store.conversation(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return models.Conversation{}, false
	}
	user := currentUser(c)
	if !conv.HasParticipant(user.ID) && !user.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return models.Conversation{}, false
	}
	return conv, true
}

func (s *Server) listConversations(c *gin.Context) {
	user := currentUser(c)

	userID := user.ID
	if q := c.Query("user_id"); q != "" {
		id, err := strconv.Atoi(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		if id != user.ID && !user.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot list another user's conversations"})
			return
		}
		userID = id
	}

	c.JSON(http.StatusOK, gin.H{"conversations": s.store.conversationsFor(userID)})
}

func (s *Server) getConversation(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	conv, ok := s.participantConversation(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// createConversation returns the direct conversation with the participant,
// creating it only when none exists yet.
func (s *Server) createConversation(c *gin.Context) {
	user := currentUser(c)

	var req struct {
		ParticipantID int `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.ParticipantID == user.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot create conversation with yourself"})
		return
	}
	if _, ok := s.store.user(req.ParticipantID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
		return
	}

	conv, created := s.store.directConversation(user.ID, req.ParticipantID, s.clock())
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv})
}

func (s *Server) updateConversation(c *gin.Context) {
	if !currentUser(c).IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	conv, ok := s.store.setTitle(id, strings.TrimSpace(req.Title), s.clock())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (s *Server) deleteConversation(c *gin.Context) {
	if !currentUser(c).IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	conv, ok := s.store.deleteConversation(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	s.hub.Publish(conv.Participants, models.Event{Type: models.EventConversationDeleted, ConversationID: id})
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) groupConversation(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user := currentUser(c)
	if !s.store.isGroupMember(id, user.ID) && !user.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a group member"})
		return
	}

	conv, ok := s.store.groupConversation(id, s.clock())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (s *Server) listMessages(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if _, ok := s.participantConversation(c, id); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": s.store.messagesIn(id, "")})
}

func (s *Server) searchMessages(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if _, ok := s.participantConversation(c, id); !ok {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": s.store.messagesIn(id, q)})
}

func (s *Server) sendMessage(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	conv, ok := s.participantConversation(c, id)
	if !ok {
		return
	}

	var req api.OutgoingMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.FilePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if req.FilePath != "" {
		if _, ok := s.store.file(req.FilePath); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown file"})
			return
		}
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}

	clientID := c.GetHeader(api.ClientMessageIDHeader)
	if clientID != "" {
		s.mu.Lock()
		s.clientIDs = append(s.clientIDs, clientID)
		s.mu.Unlock()
		c.Header(api.ClientMessageIDHeader, clientID)
	}

	msg := s.store.addMessage(models.Message{
		ConversationID: conv.ID,
		SenderID:       currentUser(c).ID,
		Content:        req.Content,
		Type:           req.Type,
		FilePath:       req.FilePath,
		FileName:       req.FileName,
		FileType:       req.FileType,
		CreatedAt:      s.clock(),
	})

	s.hub.Publish(conv.Participants, models.Event{
		Type:            models.EventMessage,
		ConversationID:  conv.ID,
		MessageID:       msg.ID,
		ClientMessageID: clientID,
		Message:         &msg,
	})

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// modifiableMessage loads :id and applies the edit/delete eligibility rule.
func (s *Server) modifiableMessage(c *gin.Context, edit bool) (models.Message, bool) {
	id, ok := paramID(c)
	if !ok {
		return models.Message{}, false
	}
	msg, ok := s.store.message(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return models.Message{}, false
	}

	user := currentUser(c)
	allowed := models.CanDelete(msg, user, s.clock(), s.editWindow)
	if edit {
		allowed = models.CanEdit(msg, user, s.clock(), s.editWindow)
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "message can no longer be changed"})
		return models.Message{}, false
	}
	return msg, true
}

func (s *Server) updateMessage(c *gin.Context) {
	msg, ok := s.modifiableMessage(c, true)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	updated, ok := s.store.updateMessage(msg.ID, req.Content, s.clock())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	if conv, ok := s.store.conversation(updated.ConversationID); ok {
		s.hub.Publish(conv.Participants, models.Event{
			Type:           models.EventMessageUpdated,
			ConversationID: conv.ID,
			MessageID:      updated.ID,
			Message:        &updated,
		})
	}
	c.JSON(http.StatusOK, gin.H{"message": updated})
}

func (s *Server) deleteMessage(c *gin.Context) {
	msg, ok := s.modifiableMessage(c, false)
	if !ok {
		return
	}

	if _, ok := s.store.deleteMessage(msg.ID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	if conv, ok := s.store.conversation(msg.ConversationID); ok {
		s.hub.Publish(conv.Participants, models.Event{
			Type:           models.EventMessageDeleted,
			ConversationID: conv.ID,
			MessageID:      msg.ID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// markRead is idempotent and never clears the flag.
func (s *Server) markRead(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	msg, ok := s.store.message(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	user := currentUser(c)
	conv, ok := s.store.conversation(msg.ConversationID)
	if !ok || !conv.HasParticipant(user.ID) || msg.SenderID == user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot mark this message"})
		return
	}

	msg, _ = s.store.markRead(id)
	s.hub.Publish([]int{msg.SenderID}, models.Event{
		Type:           models.EventRead,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	})
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize+1<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	if header.Size > s.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	name := path.Base(header.Filename)
	attachment := models.Attachment{
		Path: fmt.Sprintf("uploads/%s_%s", uuid.NewString(), name),
		Name: name,
		Type: contentType,
		Size: int64(len(data)),
	}
	s.store.putFile(storedFile{attachment: attachment, data: data})

	c.JSON(http.StatusOK, gin.H{"file": attachment})
}

func (s *Server) download(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	msg, ok := s.store.message(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if _, ok := s.participantConversation(c, msg.ConversationID); !ok {
		return
	}

	f, ok := s.store.file(msg.FilePath)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	contentType := f.attachment.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.attachment.Name))
	c.Data(http.StatusOK, contentType, f.data)
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	u, ok := s.store.user(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// selfOnly rejects requests for another user's private lists.
func selfOnly(c *gin.Context, id int) bool {
	user := currentUser(c)
	if id != user.ID && !user.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func (s *Server) recipients(c *gin.Context) {
	id, ok := paramID(c)
	if !ok || !selfOnly(c, id) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipients": s.store.recipientsFor(id)})
}

func (s *Server) groups(c *gin.Context) {
	id, ok := paramID(c)
	if !ok || !selfOnly(c, id) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": s.store.groupsFor(id)})
}

func (s *Server) children(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"children": s.store.childrenOf(id)})
}

func (s *Server) avatar(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	data, ok := s.store.avatar(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no avatar"})
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}
