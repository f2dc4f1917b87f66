package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/outline"
)

type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*models.User
	subs   map[int64]*models.Subscription
	nextID int64
	reads  int

	onCreate    func(sub models.Subscription) error
	updateErr   error
	beforePurge func()
	purgeErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*models.User{}, subs: map[int64]*models.Subscription{}}
}

func (s *fakeStore) addUser(id int64, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{ID: id, Email: email}
}

func (s *fakeStore) put(sub models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub.ID = s.nextID
	s.subs[sub.UserID] = &sub
}

func (s *fakeStore) get(userID int64) (models.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return models.Subscription{}, false
	}
	return *sub, true
}

func (s *fakeStore) GetSubscriptionByUser(_ context.Context, userID int64) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	sub, ok := s.subs[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *fakeStore) CreateSubscription(_ context.Context, sub models.Subscription) (*models.Subscription, error) {
	if s.onCreate != nil {
		if err := s.onCreate(sub); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.UserID]; ok {
		return nil, errs.ErrAlreadyExists
	}
	s.nextID++
	sub.ID = s.nextID
	s.subs[sub.UserID] = &sub
	cp := sub
	return &cp, nil
}

func (s *fakeStore) UpdateSubscription(_ context.Context, sub models.Subscription) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.subs[sub.UserID]
	if !ok || cur.ID != sub.ID {
		return errs.ErrNotFound
	}
	// как и в базе, UPDATE не трогает last_login
	sub.LastLogin = cur.LastLogin
	s.subs[sub.UserID] = &sub
	return nil
}

func (s *fakeStore) MarkDegraded(_ context.Context, id int64, plan int, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.ID == id {
			sub.KeyID, sub.AccessURL = "", ""
			sub.Status = models.StatusDegraded
			sub.Plan = plan
			sub.ExpiresAt = expiresAt
			return nil
		}
	}
	return errs.ErrNotFound
}

func (s *fakeStore) TouchLastLogin(_ context.Context, userID int64, at time.Time) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	sub.LastLogin = &at
	cp := *sub
	return &cp, nil
}

func (s *fakeStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) PurgeUser(_ context.Context, userID int64, staleBefore time.Time) error {
	if s.beforePurge != nil {
		s.beforePurge()
	}
	if s.purgeErr != nil {
		return s.purgeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[userID]; ok && (sub.LastLogin == nil || !sub.LastLogin.Before(staleBefore)) {
		return errs.ErrNotDormant
	}
	if _, ok := s.users[userID]; !ok {
		return errs.ErrNotFound
	}
	delete(s.subs, userID)
	delete(s.users, userID)
	return nil
}

func (s *fakeStore) ListServerIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var ids []string
	for _, sub := range s.subs {
		if !seen[sub.ServerID] {
			seen[sub.ServerID] = true
			ids = append(ids, sub.ServerID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type keyCall struct {
	op    string
	arg   string
	quota *int64
}

// fakeKeys — сервер ключей в памяти. Удаление отсутствующего ключа даёт errs.ErrKeyNotFound.
type fakeKeys struct {
	mu         sync.Mutex
	n          int
	keys       map[string]bool
	calls      []keyCall
	createErrs []error
	deleteErr  error
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{keys: map[string]bool{}}
}

func (f *fakeKeys) CreateKey(_ context.Context, name string, quota *int64) (*outline.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, keyCall{op: "create", arg: name, quota: quota})
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return nil, err
	}
	f.n++
	id := fmt.Sprintf("k%d", f.n)
	f.keys[id] = true
	return &outline.Key{ID: id, Name: name, AccessURL: "ss://" + id}, nil
}

func (f *fakeKeys) DeleteKey(_ context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, keyCall{op: "delete", arg: keyID})
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if !f.keys[keyID] {
		return errs.ErrKeyNotFound
	}
	delete(f.keys, keyID)
	return nil
}

func (f *fakeKeys) history() []keyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]keyCall(nil), f.calls...)
}

func (f *fakeKeys) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *fakePublisher) Publish(_ context.Context, e models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}}
}

func (c *mapCache) Get(_ context.Context, key string, result any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, result)
}

func (c *mapCache) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
