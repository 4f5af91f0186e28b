package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// sniffLen is how much of an attachment is read to detect its type.
const sniffLen = 3072

func isBlank(s string) bool {
	return strings.TrimFunc(s, unicode.IsSpace) == ""
}

func (o *Orchestrator) SetDraft(text string) {
	o.mu.Lock()
	o.draft = text
	o.mu.Unlock()
}

// SendDraft sends the composer text. The draft is cleared only if it was not
// changed while the send was in flight.
func (o *Orchestrator) SendDraft(ctx context.Context) error {
	o.mu.Lock()
	draft := o.draft
	o.mu.Unlock()
	return o.SendText(ctx, draft)
}

// SendText sends content to the active conversation. Blank content, or no
// active conversation, is a no-op. The message is added to the view only once
// the backend has accepted it; on failure the draft is kept.
func (o *Orchestrator) SendText(ctx context.Context, content string) error {
	if isBlank(content) {
		return nil
	}
	if _, err := o.me(); err != nil {
		return o.reject(err)
	}

	convID, seq := o.nextSend()
	if convID == 0 {
		logger.Debug().Msg("send ignored, no conversation selected")
		return nil
	}

	done := o.begin()
	msg, err := o.backend.SendMessage(ctx, convID, api.OutgoingMessage{
		Content:  content,
		Type:     models.MessageText,
		ClientID: uuid.NewString(),
	})
	done()
	if err != nil {
		return o.fail("failed to send message", err)
	}

	o.mu.Lock()
	o.confirmSend(convID, seq, msg)
	if o.draft == content {
		o.draft = ""
	}
	o.mu.Unlock()

	o.refreshConversations(ctx)
	return nil
}

// nextSend reserves a send sequence number for the active conversation.
func (o *Orchestrator) nextSend() (int, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeID == 0 {
		return 0, 0
	}
	o.sendSeq++
	return o.activeID, o.sendSeq
}

// confirmSend places an acknowledged message. Sends from this orchestrator
// keep their send order even when acknowledgements arrive out of order. Must
// be called with o.mu held.
func (o *Orchestrator) confirmSend(convID int, seq uint64, msg models.Message) {
	if i := o.conversationIndex(convID); i >= 0 {
		last := o.conversations[i].LastMessage
		if last == nil || !msg.CreatedAt.Before(last.CreatedAt) {
			m := msg
			o.conversations[i].LastMessage = &m
		}
	}

	if o.activeID != convID {
		return
	}
	if i := o.messageIndex(msg.ID); i >= 0 {
		if o.messages[i].seq == 0 {
			o.messages[i].seq = seq
		}
		return
	}

	pos := len(o.messages)
	for pos > 0 && o.messages[pos-1].seq > seq {
		pos--
	}
	o.messages = append(o.messages, entry{})
	copy(o.messages[pos+1:], o.messages[pos:])
	o.messages[pos] = entry{msg: msg, seq: seq}
}

// AttachFile puts f in the composer. Files over the upload limit are refused
// immediately.
func (o *Orchestrator) AttachFile(f File) error {
	if f.Size > o.maxUploadSize {
		return o.reject(ErrFileTooLarge)
	}
	o.mu.Lock()
	o.file = &f
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) ClearAttachment() {
	o.mu.Lock()
	o.file = nil
	o.mu.Unlock()
}

// SendAttachment sends the file held by the composer.
func (o *Orchestrator) SendAttachment(ctx context.Context) error {
	o.mu.Lock()
	f := o.file
	o.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := o.SendFile(ctx, *f); err != nil {
		return err
	}
	o.mu.Lock()
	if o.file == f {
		o.file = nil
	}
	o.mu.Unlock()
	return nil
}

// SendFile uploads f and posts it to the active conversation. Oversized files
// are refused without any network call. If either the upload or the send
// fails, nothing is added to the view.
func (o *Orchestrator) SendFile(ctx context.Context, f File) error {
	if f.Size > o.maxUploadSize {
		return o.reject(ErrFileTooLarge)
	}
	if _, err := o.me(); err != nil {
		return o.reject(err)
	}

	convID, seq := o.nextSend()
	if convID == 0 {
		return o.reject(ErrNoConversation)
	}

	body, contentType, err := o.prepareUpload(f)
	if errors.Is(err, ErrFileTooLarge) {
		return o.reject(ErrFileTooLarge)
	}
	if err != nil {
		return o.fail("failed to upload file", err)
	}

	done := o.begin()
	defer done()

	att, err := o.backend.Upload(ctx, f.Name, contentType, body)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return o.reject(ErrFileTooLarge)
		}
		return o.fail("failed to upload file", err)
	}
	if att.Type == "" {
		att.Type = contentType
	}
	if att.Name == "" {
		att.Name = f.Name
	}

	msg, err := o.backend.SendMessage(ctx, convID, api.OutgoingMessage{
		Content:  att.Name,
		Type:     models.MessageTypeFor(att.Type),
		FilePath: att.Path,
		FileName: att.Name,
		FileType: att.Type,
		ClientID: uuid.NewString(),
	})
	if err != nil {
		return o.fail("failed to send message", err)
	}

	o.mu.Lock()
	o.confirmSend(convID, seq, msg)
	o.mu.Unlock()

	o.refreshConversations(ctx)
	return nil
}

// prepareUpload detects the content type when f does not carry one and caps
// the body at the upload limit.
func (o *Orchestrator) prepareUpload(f File) (io.Reader, string, error) {
	if f.Body == nil {
		return nil, "", errors.New("no file content")
	}
	body := io.Reader(&capReader{r: f.Body, left: o.maxUploadSize})

	contentType := f.ContentType
	if contentType == "" {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(body, head)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, "", err
		}
		head = head[:n]
		contentType = mimetype.Detect(head).String()
		body = io.MultiReader(bytes.NewReader(head), body)
	}
	return body, contentType, nil
}

// capReader fails with ErrFileTooLarge once more than left bytes were read.
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}

func (o *Orchestrator) findMessage(id int) (models.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i := o.messageIndex(id); i >= 0 {
		return o.messages[i].msg, true
	}
	return models.Message{}, false
}

// BeginEdit opens an edit buffer for a message the current user may still
// edit.
func (o *Orchestrator) BeginEdit(messageID int) error {
	msg, ok := o.findMessage(messageID)
	if !ok {
		return o.reject(ErrMessageNotFound)
	}
	if !o.CanEdit(msg) {
		return o.reject(ErrNotAllowed)
	}
	o.mu.Lock()
	o.editDrafts[messageID] = msg.Content
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) SetEditDraft(messageID int, text string) {
	o.mu.Lock()
	if _, ok := o.editDrafts[messageID]; ok {
		o.editDrafts[messageID] = text
	}
	o.mu.Unlock()
}

func (o *Orchestrator) CancelEdit(messageID int) {
	o.mu.Lock()
	delete(o.editDrafts, messageID)
	o.mu.Unlock()
}

// SaveEdit submits the edit buffer of messageID.
func (o *Orchestrator) SaveEdit(ctx context.Context, messageID int) error {
	o.mu.Lock()
	draft, ok := o.editDrafts[messageID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if err := o.EditMessage(ctx, messageID, draft); err != nil {
		return err
	}
	o.CancelEdit(messageID)
	return nil
}

// EditMessage replaces the content of a message in the active conversation.
// File messages cannot be edited, and non-admins only within the edit window.
func (o *Orchestrator) EditMessage(ctx context.Context, messageID int, content string) error {
	if isBlank(content) {
		return nil
	}
	if _, err := o.me(); err != nil {
		return o.reject(err)
	}
	msg, ok := o.findMessage(messageID)
	if !ok {
		return o.reject(ErrMessageNotFound)
	}
	if !o.CanEdit(msg) {
		return o.reject(ErrNotAllowed)
	}

	done := o.begin()
	updated, err := o.backend.UpdateMessage(ctx, messageID, content)
	done()
	if err != nil {
		return o.fail("failed to update message", err)
	}

	o.mu.Lock()
	if i := o.messageIndex(messageID); i >= 0 {
		m := &o.messages[i].msg
		m.Content = content
		if updated.UpdatedAt != nil {
			m.UpdatedAt = updated.UpdatedAt
		} else {
			now := o.now()
			m.UpdatedAt = &now
		}
	}
	o.mu.Unlock()
	return nil
}

// DeleteMessage removes a message after the user confirms.
func (o *Orchestrator) DeleteMessage(ctx context.Context, messageID int) error {
	if _, err := o.me(); err != nil {
		return o.reject(err)
	}
	msg, ok := o.findMessage(messageID)
	if !ok {
		return o.reject(ErrMessageNotFound)
	}
	if !o.CanDelete(msg) {
		return o.reject(ErrNotAllowed)
	}
	if !o.confirm("Delete this message?") {
		return ErrCancelled
	}

	done := o.begin()
	err := o.backend.DeleteMessage(ctx, messageID)
	done()
	if err != nil {
		return o.fail("failed to delete message", err)
	}

	o.mu.Lock()
	if i := o.messageIndex(messageID); i >= 0 {
		o.messages = append(o.messages[:i], o.messages[i+1:]...)
	}
	delete(o.editDrafts, messageID)
	o.mu.Unlock()

	o.refreshConversations(ctx)
	return nil
}

func (o *Orchestrator) confirm(prompt string) bool {
	if o.confirmer == nil {
		return false
	}
	return o.confirmer.Confirm(prompt)
}

// DownloadAttachment fetches the file of messageID and saves it as fileName.
// It returns where the file was written.
func (o *Orchestrator) DownloadAttachment(ctx context.Context, messageID int, fileName string) (string, error) {
	if o.sess == nil || o.sess.Token() == "" {
		return "", o.reject(ErrNotAuthenticated)
	}

	done := o.begin()
	data, err := o.backend.Download(ctx, messageID)
	done()
	if err != nil {
		return "", o.fail("failed to download file", err)
	}
	if len(data) == 0 {
		return "", o.reject(ErrEmptyDownload)
	}

	saver := o.saver
	if saver == nil {
		saver = DirSaver{Dir: "."}
	}
	path, err := saver.Save(fileName, data)
	if err != nil {
		return "", o.fail("failed to download file", fmt.Errorf("save %s: %w", fileName, err))
	}
	logger.Info().Int("message_id", messageID).Str("path", path).Int("bytes", len(data)).Msg("attachment saved")
	return path, nil
}
