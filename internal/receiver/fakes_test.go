// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package receiver

import (
	"context"
	"fmt"
	"sync"

	"github.com/mdheller/discourse/internal/models"
)

type reaction struct {
	identityID, postID int64
	kind               string
}

type systemMail struct {
	identityID int64
	template   string
}

// fakeForum implements every collaborator in memory.
type fakeForum struct {
	mu     sync.Mutex
	nextID int64

	identities map[string]*models.Identity
	screened   map[string]bool
	groups     map[string]*models.Group
	categories map[string]*models.Category
	replyKeys  map[string]*models.ReplyKeyRecord
	topics     map[int64]*models.Topic
	posts      map[int64]*models.Post
	threads    map[string]int64
	emailLogs  map[string]*models.EmailLog

	authors   map[int64]bool
	created   []PostRequest
	invites   [][2]int64
	reactions []reaction
	mails     []systemMail
	destroyed []int64
	bounced   map[int64]string
	uploads   []string

	rejectPosts bool
	// postErr fails the next CreatePost once.
	postErr     error
	denyReply   bool
	reactErr    error
}

func newFakeForum() *fakeForum {
	return &fakeForum{
		nextID:     1000,
		identities: make(map[string]*models.Identity),
		screened:   make(map[string]bool),
		groups:     make(map[string]*models.Group),
		categories: make(map[string]*models.Category),
		replyKeys:  make(map[string]*models.ReplyKeyRecord),
		topics:     make(map[int64]*models.Topic),
		posts:      make(map[int64]*models.Post),
		threads:    make(map[string]int64),
		emailLogs:  make(map[string]*models.EmailLog),
		authors:    make(map[int64]bool),
		bounced:    make(map[int64]string),
	}
}

func (f *fakeForum) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeForum) addIdentity(identity models.Identity) *models.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if identity.ID == 0 {
		identity.ID = f.id()
	}
	f.identities[identity.Address] = &identity
	return &identity
}

// addTopic creates a topic whose first post has id postID.
func (f *fakeForum) addTopic(topic models.Topic, postID int64) *models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics[topic.ID] = &topic
	p := &models.Post{ID: postID, TopicID: topic.ID, PostNumber: 1}
	f.posts[postID] = p
	return p
}

func (f *fakeForum) createdPosts() []PostRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PostRequest(nil), f.created...)
}

func (f *fakeForum) identity(addr string) *models.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identities[addr]
}

// IdentityDirectory

func (f *fakeForum) FindIdentity(_ context.Context, addr string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.identities[addr]; ok {
		c := *i
		return &c, nil
	}
	return nil, nil
}

func (f *fakeForum) FindOrCreateStaged(_ context.Context, addr, name string) (*models.Identity, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.identities[addr]; ok {
		c := *i
		return &c, false, nil
	}
	i := &models.Identity{ID: f.id(), Address: addr, Name: name, Staged: true}
	f.identities[addr] = i
	c := *i
	return &c, true, nil
}

func (f *fakeForum) DestroyStaged(_ context.Context, identityID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for addr, i := range f.identities {
		if i.ID == identityID {
			if !i.Staged {
				return fmt.Errorf("identity %d is not staged", identityID)
			}
			delete(f.identities, addr)
		}
	}
	f.destroyed = append(f.destroyed, identityID)
	return nil
}

func (f *fakeForum) OwnsContent(_ context.Context, identityID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authors[identityID], nil
}

func (f *fakeForum) IsScreened(_ context.Context, addr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screened[addr], nil
}

// ConversationDirectory

func (f *fakeForum) FindGroupByAddress(_ context.Context, addr string) (*models.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[addr], nil
}

func (f *fakeForum) FindCategoryByAddress(_ context.Context, addr string) (*models.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories[addr], nil
}

func (f *fakeForum) FindReplyKey(_ context.Context, key string) (*models.ReplyKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replyKeys[key], nil
}

func (f *fakeForum) findPost(postID int64) *models.Post {
	p, ok := f.posts[postID]
	if !ok {
		return nil
	}
	c := *p
	if t, ok := f.topics[p.TopicID]; ok {
		tc := *t
		c.Topic = &tc
	}
	return &c
}

func (f *fakeForum) FindPost(_ context.Context, postID int64) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findPost(postID), nil
}

func (f *fakeForum) FindPostByMessageIDs(_ context.Context, ids []string) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if postID, ok := f.threads[id]; ok {
			return f.findPost(postID), nil
		}
	}
	return nil, nil
}

func (f *fakeForum) FindEmailLog(_ context.Context, bounceKey string) (*models.EmailLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emailLogs[bounceKey], nil
}

func (f *fakeForum) MarkBounced(_ context.Context, emailLogID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bounced[emailLogID] = status
	return nil
}

// ContentCreator

func (f *fakeForum) CreatePost(_ context.Context, req PostRequest) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectPosts {
		return nil, fmt.Errorf("body is too similar to a recent post: %w", ErrPostRejected)
	}
	if err := f.postErr; err != nil {
		f.postErr = nil
		return nil, err
	}
	f.created = append(f.created, req)
	f.authors[req.AuthorID] = true

	post := &models.Post{ID: f.id()}
	if req.TopicID == 0 {
		topic := &models.Topic{ID: f.id(), Title: req.Title, Archetype: req.Archetype}
		f.topics[topic.ID] = topic
		post.TopicID = topic.ID
		post.PostNumber = 1
	} else {
		post.TopicID = req.TopicID
		n := 0
		for _, p := range f.posts {
			if p.TopicID == req.TopicID && p.PostNumber > n {
				n = p.PostNumber
			}
		}
		post.PostNumber = n + 1
	}
	f.posts[post.ID] = post
	c := *post
	return &c, nil
}

func (f *fakeForum) AddInvitee(_ context.Context, topicID, identityID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, [2]int64{topicID, identityID})
	return nil
}

func (f *fakeForum) CanReply(_ context.Context, _ int64, _ *models.Topic) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.denyReply, nil
}

// ReactionRecorder

func (f *fakeForum) React(_ context.Context, identityID, postID int64, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactErr != nil {
		return f.reactErr
	}
	f.reactions = append(f.reactions, reaction{identityID, postID, kind})
	return nil
}

// Mailer

func (f *fakeForum) SendSystemMessage(_ context.Context, identityID int64, template string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mails = append(f.mails, systemMail{identityID, template})
	return nil
}

// Uploader

func (f *fakeForum) Upload(_ context.Context, identityID int64, filename, _ string, data []byte) (*models.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filename)
	return &models.Upload{
		ID:               f.id(),
		URL:              fmt.Sprintf("/uploads/%d/%s", identityID, filename),
		OriginalFilename: filename,
		Size:             int64(len(data)),
	}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	outcomes []models.Outcome
}

func (p *fakePublisher) PublishOutcome(_ context.Context, o *models.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, *o)
	return nil
}

func (p *fakePublisher) kinds() []models.OutcomeKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.OutcomeKind
	for _, o := range p.outcomes {
		out = append(out, o.Kind)
	}
	return out
}
