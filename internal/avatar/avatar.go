// Package avatar resolves a user's profile picture, falling back to initials
// over a color derived from the user id.
package avatar

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/logger"
	"github.com/charmbracelet/lipgloss"
	"github.com/gabriel-vasile/mimetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const placeholderColor = "#9e9e9e"

// Fetcher loads the raw profile image of a user. It returns nil bytes and a
// nil error when the user has no picture.
type Fetcher interface {
	Avatar(ctx context.Context, userID int) ([]byte, error)
}

// Cache persists fetched images between runs. *db.DB implements it.
type Cache interface {
	LoadAvatar(userID int) ([]byte, string, bool)
	StoreAvatar(userID int, data []byte, contentType string)
}

type Avatar struct {
	UserID      int
	Image       []byte
	ContentType string
	Initials    string
	Color       string
	Gradient    string
	Pending     bool
}

func (a Avatar) HasImage() bool {
	return len(a.Image) > 0
}

type Option func(*Resolver)

func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

type Resolver struct {
	fetcher Fetcher
	cache   Cache

	mu    sync.RWMutex
	known map[int]Avatar
	group singleflight.Group
}

func NewResolver(fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher: fetcher,
		known:   make(map[int]Avatar),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Placeholder is the neutral avatar shown while a fetch is pending.
func Placeholder() Avatar {
	return Avatar{Color: placeholderColor, Gradient: placeholderColor, Pending: true}
}

// Peek returns what is already known about userID without any I/O.
func (r *Resolver) Peek(userID int) Avatar {
	r.mu.RLock()
	a, ok := r.known[userID]
	r.mu.RUnlock()
	if ok {
		return a
	}
	if r.cache != nil {
		if data, ct, ok := r.cache.LoadAvatar(userID); ok {
			a := Avatar{UserID: userID, Image: data, ContentType: ct, Color: ColorFor(userID), Gradient: GradientFor(userID)}
			r.remember(a)
			return a
		}
	}
	p := Placeholder()
	p.UserID = userID
	return p
}

// Resolve returns the user's picture, or initials when there is none or the
// stored bytes are not an image. Transient fetch errors also fall back to
// initials but are not remembered, so a later call retries.
func (r *Resolver) Resolve(ctx context.Context, user models.User) Avatar {
	if a := r.Peek(user.ID); !a.Pending {
		if !a.HasImage() && a.Initials == "" {
			a.Initials = Initials(user)
		}
		return a
	}

	v, _, _ := r.group.Do(fmt.Sprint(user.ID), func() (any, error) {
		return r.fetch(ctx, user), nil
	})
	return v.(Avatar)
}

func (r *Resolver) fetch(ctx context.Context, user models.User) Avatar {
	fallback := Avatar{
		UserID:   user.ID,
		Initials: Initials(user),
		Color:    ColorFor(user.ID),
		Gradient: GradientFor(user.ID),
	}
	if r.fetcher == nil {
		return fallback
	}

	data, err := r.fetcher.Avatar(ctx, user.ID)
	if err != nil {
		logger.Debug().Err(err).Int("user_id", user.ID).Msg("avatar fetch failed")
		return fallback
	}
	if len(data) == 0 {
		r.remember(fallback)
		return fallback
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		logger.Debug().Int("user_id", user.ID).Str("mime", mime.String()).Msg("avatar is not an image")
		r.remember(fallback)
		return fallback
	}

	a := fallback
	a.Image = data
	a.ContentType = mime.String()
	r.remember(a)
	if r.cache != nil {
		r.cache.StoreAvatar(user.ID, data, a.ContentType)
	}
	return a
}

func (r *Resolver) remember(a Avatar) {
	r.mu.Lock()
	r.known[a.UserID] = a
	r.mu.Unlock()
}

// Forget drops userID from the in-memory table, e.g. after a profile update.
func (r *Resolver) Forget(userID int) {
	r.mu.Lock()
	delete(r.known, userID)
	r.mu.Unlock()
}

var upper = cases.Upper(language.Und)

// Initials returns up to two upper-cased letters from the user's names.
func Initials(u models.User) string {
	var b strings.Builder
	for _, name := range []string{u.FirstName, u.LastName} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(name)
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "?"
	}
	return upper.String(b.String())
}

func hue(userID int) float64 {
	h := fnv.New32a()
	fmt.Fprintf(h, "user:%d", userID)
	return float64(h.Sum32() % 360)
}

// ColorFor returns the background color for userID. The same id always maps to
// the same color.
func ColorFor(userID int) string {
	return colorful.Hsl(hue(userID), 0.55, 0.5).Hex()
}

// GradientFor returns the second gradient stop paired with ColorFor.
func GradientFor(userID int) string {
	h := hue(userID) + 40
	if h >= 360 {
		h -= 360
	}
	return colorful.Hsl(h, 0.6, 0.4).Hex()
}

// Badge renders a for a terminal: a colored block with the initials, or a
// marker when a picture is available.
func Badge(a Avatar) string {
	label := a.Initials
	switch {
	case a.Pending:
		label = "…"
	case a.HasImage():
		label = "◉"
	case label == "":
		label = "?"
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#ffffff")).
		Background(lipgloss.Color(a.Color)).
		Padding(0, 1).
		Render(label)
}
