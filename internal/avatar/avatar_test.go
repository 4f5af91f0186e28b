package avatar

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/4xmen/kelasyar/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1x1 transparent PNG
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type stubFetcher struct {
	mu    sync.Mutex
	data  map[int][]byte
	err   error
	calls int
}

func (s *stubFetcher) Avatar(_ context.Context, userID int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.data[userID], nil
}

type mapCache map[int][]byte

func (m mapCache) LoadAvatar(userID int) ([]byte, string, bool) {
	d, ok := m[userID]
	return d, "image/png", ok
}

func (m mapCache) StoreAvatar(userID int, data []byte, _ string) { m[userID] = data }

func TestColorForIsDeterministic(t *testing.T) {
	for _, id := range []int{1, 2, 42, 1000} {
		assert.Equal(t, ColorFor(id), ColorFor(id))
		assert.Equal(t, GradientFor(id), GradientFor(id))
		assert.True(t, strings.HasPrefix(ColorFor(id), "#"))
		assert.Len(t, ColorFor(id), 7)
	}

	seen := map[string]bool{}
	for id := 1; id <= 10; id++ {
		seen[ColorFor(id)] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestInitials(t *testing.T) {
	tests := []struct {
		user models.User
		want string
	}{
		{models.User{FirstName: "sara", LastName: "karimi"}, "SK"},
		{models.User{FirstName: "élodie"}, "É"},
		{models.User{LastName: "  moradi"}, "M"},
		{models.User{}, "?"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Initials(tt.user))
	}
}

func TestResolveImage(t *testing.T) {
	fetcher := &stubFetcher{data: map[int][]byte{7: pngPixel}}
	cache := mapCache{}
	r := NewResolver(fetcher, WithCache(cache))

	assert.True(t, r.Peek(7).Pending)

	a := r.Resolve(context.Background(), models.User{ID: 7, FirstName: "Ali"})
	require.True(t, a.HasImage())
	assert.Equal(t, "image/png", a.ContentType)
	assert.Equal(t, ColorFor(7), a.Color)
	assert.Contains(t, cache, 7)

	// second call is served from memory
	r.Resolve(context.Background(), models.User{ID: 7})
	assert.Equal(t, 1, fetcher.calls)
}

func TestResolveFallsBackToInitials(t *testing.T) {
	fetcher := &stubFetcher{data: map[int][]byte{
		3: []byte("<html>not found</html>"),
	}}
	r := NewResolver(fetcher)

	absent := r.Resolve(context.Background(), models.User{ID: 2, FirstName: "Mina", LastName: "Azadi"})
	assert.False(t, absent.HasImage())
	assert.Equal(t, "MA", absent.Initials)
	assert.False(t, absent.Pending)

	broken := r.Resolve(context.Background(), models.User{ID: 3, FirstName: "Omid"})
	assert.False(t, broken.HasImage())
	assert.Equal(t, "O", broken.Initials)
	assert.Equal(t, ColorFor(3), broken.Color)
}

func TestResolveRetriesAfterTransientError(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("connection reset")}
	r := NewResolver(fetcher)

	a := r.Resolve(context.Background(), models.User{ID: 4, FirstName: "Nazanin"})
	assert.Equal(t, "N", a.Initials)
	assert.True(t, r.Peek(4).Pending)

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.data = map[int][]byte{4: pngPixel}
	fetcher.mu.Unlock()

	assert.True(t, r.Resolve(context.Background(), models.User{ID: 4}).HasImage())
}

func TestPeekUsesPersistentCache(t *testing.T) {
	fetcher := &stubFetcher{}
	r := NewResolver(fetcher, WithCache(mapCache{9: pngPixel}))

	a := r.Peek(9)
	assert.True(t, a.HasImage())
	assert.Equal(t, 0, fetcher.calls)
}

func TestBadge(t *testing.T) {
	out := Badge(Avatar{Initials: "SK", Color: ColorFor(1)})
	assert.Contains(t, out, "SK")
	assert.Contains(t, Badge(Placeholder()), "…")
}
