// Package backendtest is an in-process implementation of the messaging
// backend's HTTP contract. Tests use it as a fake; the sandbox command serves
// it so the CLI can be tried without a real deployment.
package backendtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/4xmen/kelasyar/internal/auth"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const apiPrefix = "/api"

type Server struct {
	store  *store
	issuer *auth.Issuer
	hub    *Hub
	router *gin.Engine
	done   chan struct{}
	once   sync.Once

	maxUploadSize int64
	editWindow    time.Duration
	sendRate      limiter.Rate

	mu        sync.Mutex
	now       func() time.Time
	failures  map[string][]int
	calls     map[string]int
	clientIDs []string
}

type Option func(*Server)

func WithSecret(secret string) Option {
	return func(s *Server) { s.issuer = auth.NewIssuer(secret) }
}

func WithMaxUploadSize(n int64) Option {
	return func(s *Server) { s.maxUploadSize = n }
}

func WithEditWindow(d time.Duration) Option {
	return func(s *Server) { s.editWindow = d }
}

// WithSendRate limits message sends and uploads per user.
func WithSendRate(rate limiter.Rate) Option {
	return func(s *Server) { s.sendRate = rate }
}

func New(opts ...Option) *Server {
	s := &Server{
		store:         newStore(),
		issuer:        auth.NewIssuer("sandbox-secret"),
		done:          make(chan struct{}),
		maxUploadSize: models.MaxUploadSize,
		editWindow:    models.EditWindow,
		sendRate:      limiter.Rate{Period: time.Minute, Limit: 600},
		now:           time.Now,
		failures:      make(map[string][]int),
		calls:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = newHub(s.done)
	go s.hub.Run()

	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger())
	router.Use(panicRecovery())
	router.MaxMultipartMemory = 8 << 20

	sendLimiter := limiter.New(memory.NewStore(), s.sendRate)

	api := router.Group(apiPrefix)
	api.Use(s.authMiddleware(), s.faultMiddleware())
	{
		api.GET("/conversations", s.listConversations)
		api.POST("/conversations", s.createConversation)
		api.GET("/conversations/:id", s.getConversation)
		api.PUT("/conversations/:id", s.updateConversation)
		api.DELETE("/conversations/:id", s.deleteConversation)
		api.GET("/conversations/:id/messages", s.listMessages)
		api.POST("/conversations/:id/messages", rateLimitMiddleware(sendLimiter), s.sendMessage)
		api.GET("/conversations/:id/messages/search", s.searchMessages)

		api.PUT("/messages/:id", s.updateMessage)
		api.DELETE("/messages/:id", s.deleteMessage)
		api.PUT("/messages/:id/read", s.markRead)
		api.GET("/messages/:id/download", s.download)
		api.POST("/upload", rateLimitMiddleware(sendLimiter), s.upload)

		api.GET("/users/:id", s.getUser)
		api.GET("/users/:id/recipients", s.recipients)
		api.GET("/users/:id/groups", s.groups)
		api.GET("/users/:id/children", s.children)
		api.GET("/users/:id/avatar", s.avatar)
		api.GET("/groups/:id/conversation", s.groupConversation)
	}

	router.GET("/ws", s.authMiddleware(), s.hub.handleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve starts an httptest server. It returns the API base URL, the push URL
// and a function that stops both the listener and the hub.
func (s *Server) Serve() (apiURL, wsURL string, stop func()) {
	ts := httptest.NewServer(s.router)
	wsURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return ts.URL + apiPrefix, wsURL, func() {
		ts.Close()
		s.Close()
	}
}

func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// SetClock replaces the backend's notion of now.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// AddUser registers u, assigning an id when u.ID is zero.
func (s *Server) AddUser(u models.User) models.User {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if u.ID == 0 {
		s.store.nextUserID++
		u.ID = s.store.nextUserID
	} else if u.ID > s.store.nextUserID {
		s.store.nextUserID = u.ID
	}
	s.store.users[u.ID] = u
	return u
}

// Token issues a bearer token for a registered user.
func (s *Server) Token(userID int) (string, error) {
	u, ok := s.store.user(userID)
	if !ok {
		return "", ErrUnknownUser
	}
	return s.issuer.Issue(u)
}

func (s *Server) AddChild(parentID int, child models.User) models.User {
	child = s.AddUser(child)
	s.store.mu.Lock()
	s.store.children[parentID] = append(s.store.children[parentID], child.ID)
	s.store.mu.Unlock()
	return child
}

func (s *Server) AddGroup(name string, members ...int) models.Group {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.nextGroupID++
	g := models.Group{ID: s.store.nextGroupID, Name: name}
	s.store.groups[g.ID] = g
	s.store.groupMembers[g.ID] = append([]int(nil), members...)
	return g
}

func (s *Server) SetAvatar(userID int, data []byte) {
	s.store.mu.Lock()
	s.store.avatars[userID] = data
	s.store.mu.Unlock()
}

// SeedMessage stores a message directly, bypassing the eligibility checks and
// the push channel.
func (s *Server) SeedMessage(m models.Message) models.Message {
	if m.Type == "" {
		m.Type = models.MessageText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock()
	}
	return s.store.addMessage(m)
}

// SeedFile stores an attachment payload under path.
func (s *Server) SeedFile(a models.Attachment, data []byte) {
	s.store.putFile(storedFile{attachment: a, data: data})
}

func (s *Server) Message(id int) (models.Message, bool) {
	return s.store.message(id)
}

func (s *Server) Conversation(id int) (models.Conversation, bool) {
	return s.store.conversation(id)
}

func (s *Server) Messages(conversationID int) []models.Message {
	return s.store.messagesIn(conversationID, "")
}

// FailNext makes the next request to route answer status. route is the path
// pattern below /api, e.g. "/conversations/:id/messages".
func (s *Server) FailNext(method, route string, status int) {
	s.mu.Lock()
	key := method + " " + route
	s.failures[key] = append(s.failures[key], status)
	s.mu.Unlock()
}

// Calls returns how many requests reached route.
func (s *Server) Calls(method, route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+route]
}

// ClientMessageIDs returns the client ids seen on sends, in arrival order.
func (s *Server) ClientMessageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clientIDs...)
}
