package messaging

import (
	"sync"

	"github.com/4xmen/kelasyar/internal/models"
)

// Directory is the locally cached user directory used to name conversation
// participants. *db.DB implements it.
type Directory interface {
	User(id int) (models.User, bool)
	Remember(users ...models.User)
}

type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[int]models.User
}

func NewMemoryDirectory(users ...models.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[int]models.User)}
	d.Remember(users...)
	return d
}

func (d *MemoryDirectory) User(id int) (models.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Remember stores users. An empty ChildName keeps the one already known.
func (d *MemoryDirectory) Remember(users ...models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range users {
		if prev, ok := d.users[u.ID]; ok && u.ChildName == "" {
			u.ChildName = prev.ChildName
		}
		d.users[u.ID] = u
	}
}
