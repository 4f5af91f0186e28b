// Package messaging owns the messaging view state and the user-facing actions
// on it: choosing a conversation, sending, editing, deleting, read tracking,
// attachments and the admin tools.
//
// An Orchestrator is safe for concurrent use. Every network-bound operation
// blocks the calling goroutine; the internal lock is never held across a
// backend call. When an operation fails the error is returned and a
// translated banner is recorded in State().Error, and the state held before
// the call is left in place.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/internal/session"
	"github.com/4xmen/kelasyar/pkg/i18n"
	"github.com/4xmen/kelasyar/pkg/logger"
)

// Error texts double as i18n keys.
var (
	ErrNoConversation   = errors.New("no conversation selected")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNotAllowed       = errors.New("message can no longer be changed")
	ErrNotAdmin         = errors.New("admin only")
	ErrCancelled        = errors.New("cancelled")
	ErrEmptyDownload    = errors.New("downloaded file is empty")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotAuthenticated = session.ErrSignedOut
)

// Backend is the slice of the API client the orchestrator needs.
// *api.Client satisfies it.
type Backend interface {
	ListConversations(ctx context.Context, userID int) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, otherUserID int) (models.Conversation, error)
	GroupConversation(ctx context.Context, groupID int) (models.Conversation, error)
	UpdateConversation(ctx context.Context, conversationID int, title string) (models.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int) error

	ListMessages(ctx context.Context, conversationID int) ([]models.Message, error)
	SearchMessages(ctx context.Context, conversationID int, query string) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID int, msg api.OutgoingMessage) (models.Message, error)
	UpdateMessage(ctx context.Context, messageID int, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int) error
	MarkRead(ctx context.Context, messageID int) error

	Upload(ctx context.Context, fileName, contentType string, body io.Reader) (models.Attachment, error)
	Download(ctx context.Context, messageID int) ([]byte, error)

	Recipients(ctx context.Context, userID int) ([]models.User, error)
	Groups(ctx context.Context, userID int) ([]models.Group, error)
}

// ChildNamer looks up the name of a parent's child for display next to the
// parent. Failures are ignored.
type ChildNamer interface {
	ChildName(ctx context.Context, parentID int) (string, error)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Saver writes a downloaded attachment and returns where it went. It must not
// leave a partial file behind on failure.
type Saver interface {
	Save(fileName string, data []byte) (string, error)
}

// File is an attachment picked by the user.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// FileInfo is the part of File that State exposes.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
}

type ConversationView struct {
	models.Conversation

	// Other is the other participant of a direct conversation, or nil for a
	// group. Unknown users carry a placeholder name.
	Other *models.User
}

// Name is what a conversation list shows for c.
func (c ConversationView) Name() string {
	if c.Title != "" {
		return c.Title
	}
	if c.Other != nil {
		if c.Other.ChildName != "" {
			return fmt.Sprintf("%s (%s)", c.Other.DisplayName(), c.Other.ChildName)
		}
		return c.Other.DisplayName()
	}
	return fmt.Sprintf("#%d", c.ID)
}

type Composer struct {
	Draft           string
	File            *FileInfo
	EmojiPickerOpen bool
}

// State is a snapshot; mutating it does not affect the orchestrator.
type State struct {
	Conversations []ConversationView
	Active        *ConversationView
	Messages      []models.Message
	Composer      Composer
	EditDrafts    map[int]string
	TitleDrafts   map[int]string
	Loading       bool
	Error         string
}

type Option func(*Orchestrator)

func WithDirectory(d Directory) Option {
	return func(o *Orchestrator) { o.dir = d }
}

func WithChildNamer(n ChildNamer) Option {
	return func(o *Orchestrator) { o.childNamer = n }
}

func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

func WithSaver(s Saver) Option {
	return func(o *Orchestrator) { o.saver = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithEditWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.editWindow = d }
}

func WithMaxUploadSize(n int64) Option {
	return func(o *Orchestrator) { o.maxUploadSize = n }
}

// WithReadConcurrency bounds the mark-as-read calls issued when a
// conversation is opened.
func WithReadConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.readConcurrency = n
		}
	}
}

func WithTranslator(t i18n.Translator) Option {
	return func(o *Orchestrator) { o.translate = t }
}

// entry is a message in the active view. seq is non-zero for messages this
// orchestrator sent and records send order.
type entry struct {
	msg models.Message
	seq uint64
}

type Orchestrator struct {
	backend    Backend
	sess       session.Provider
	dir        Directory
	childNamer ChildNamer
	confirmer  Confirmer
	saver      Saver
	now        func() time.Time
	translate  i18n.Translator

	editWindow      time.Duration
	maxUploadSize   int64
	readConcurrency int

	mu            sync.Mutex
	conversations []ConversationView
	activeID      int
	generation    uint64
	messages      []entry
	seenRead      map[int]bool
	sendSeq       uint64
	draft         string
	file          *File
	emojiOpen     bool
	editDrafts    map[int]string
	titleDrafts   map[int]string
	inFlight      int
	banner        string
}

func New(backend Backend, sess session.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:         backend,
		sess:            sess,
		dir:             NewMemoryDirectory(),
		now:             time.Now,
		translate:       i18n.For(""),
		editWindow:      models.EditWindow,
		maxUploadSize:   models.MaxUploadSize,
		readConcurrency: 4,
		seenRead:        make(map[int]bool),
		editDrafts:      make(map[int]string),
		titleDrafts:     make(map[int]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := State{
		Conversations: make([]ConversationView, len(o.conversations)),
		Messages:      make([]models.Message, len(o.messages)),
		Composer:      Composer{Draft: o.draft, EmojiPickerOpen: o.emojiOpen},
		EditDrafts:    make(map[int]string, len(o.editDrafts)),
		TitleDrafts:   make(map[int]string, len(o.titleDrafts)),
		Loading:       o.inFlight > 0,
		Error:         o.banner,
	}
	for i, c := range o.conversations {
		s.Conversations[i] = copyView(c)
	}
	for i, e := range o.messages {
		s.Messages[i] = e.msg
	}
	if o.file != nil {
		s.Composer.File = &FileInfo{Name: o.file.Name, Size: o.file.Size, ContentType: o.file.ContentType}
	}
	for k, v := range o.editDrafts {
		s.EditDrafts[k] = v
	}
	for k, v := range o.titleDrafts {
		s.TitleDrafts[k] = v
	}
	if o.activeID != 0 {
		active := ConversationView{Conversation: models.Conversation{ID: o.activeID}}
		if i := o.conversationIndex(o.activeID); i >= 0 {
			active = copyView(o.conversations[i])
		}
		s.Active = &active
	}
	return s
}

// ActiveID returns the selected conversation, or 0.
func (o *Orchestrator) ActiveID() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeID
}

func (o *Orchestrator) DismissError() {
	o.mu.Lock()
	o.banner = ""
	o.mu.Unlock()
}

// CanEdit reports whether the current user may edit m now.
func (o *Orchestrator) CanEdit(m models.Message) bool {
	me, ok := o.sess.CurrentUser()
	return ok && models.CanEdit(m, me, o.now(), o.editWindow)
}

// CanDelete reports whether the current user may delete m now.
func (o *Orchestrator) CanDelete(m models.Message) bool {
	me, ok := o.sess.CurrentUser()
	return ok && models.CanDelete(m, me, o.now(), o.editWindow)
}

func (o *Orchestrator) me() (models.User, error) {
	return session.Require(o.sess)
}

func (o *Orchestrator) begin() func() {
	o.mu.Lock()
	o.inFlight++
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		o.inFlight--
		o.mu.Unlock()
	}
}

// fail records key as the banner and returns err wrapped with it.
func (o *Orchestrator) fail(key string, err error) error {
	o.mu.Lock()
	o.banner = o.translate(key)
	o.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Msg(key)
	} else {
		logger.Warn().Err(err).Msg(key)
	}
	if err.Error() == key {
		return err
	}
	return fmt.Errorf("%s: %w", key, err)
}

// reject records a sentinel error as the banner.
func (o *Orchestrator) reject(err error) error {
	o.mu.Lock()
	o.banner = o.translate(err.Error())
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) conversationIndex(id int) int {
	for i, c := range o.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) messageIndex(id int) int {
	for i, e := range o.messages {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

func copyView(c ConversationView) ConversationView {
	out := c
	out.Participants = append([]int(nil), c.Participants...)
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	if c.Other != nil {
		u := *c.Other
		out.Other = &u
	}
	return out
}
