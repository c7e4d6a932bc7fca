package demo

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned for unknown user IDs.
var ErrUserNotFound = errors.New("user not found")

// User is a stored user.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore is an in-memory user table.  The zero value is ready to use.
type UserStore struct {
	lock  sync.RWMutex
	users map[string]User
}

// Create stores a new user and returns it.
func (s *UserStore) Create(name, email string) User {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.users == nil {
		s.users = make(map[string]User)
	}
	u := User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	s.users[u.ID] = u
	return u
}

// Get returns the user with id.
func (s *UserStore) Get(id string) (User, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// Delete removes the user with id.
func (s *UserStore) Delete(id string) (User, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	delete(s.users, id)
	return u, nil
}

// List returns users oldest first.  A non-empty name filters to users
// whose name matches exactly.
func (s *UserStore) List(name string) []User {
	s.lock.RLock()
	defer s.lock.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		if name == "" || u.Name == name {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}
