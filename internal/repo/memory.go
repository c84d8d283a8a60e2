package repo

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

// MemoryStore keeps every record in process memory. It backs STORE_DRIVER=memory
// and the package tests of its callers.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]model.Message
	bulks    map[string]model.BulkMessage
	prefs    map[string]model.Preference
	profiles map[string]model.Profile
	now      func() time.Time
}

var (
	_ MessageRepository    = (*MemoryStore)(nil)
	_ BulkRepository       = (*MemoryStore)(nil)
	_ PreferenceRepository = (*MemoryStore)(nil)
	_ Directory            = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]model.Message),
		bulks:    make(map[string]model.BulkMessage),
		prefs:    make(map[string]model.Preference),
		profiles: make(map[string]model.Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) AddProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Messages returns a snapshot ordered by creation time.
func (s *MemoryStore) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sortByCreated(out)
	return out
}

func (s *MemoryStore) Create(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = *m
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) GetByCarrierID(ctx context.Context, carrierID string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.CarrierID != nil && *m.CarrierID == carrierID {
			return m, nil
		}
	}
	return model.Message{}, ErrNotFound
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from model.Status, u model.StatusUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Status != from {
		return false, nil
	}
	s.messages[id] = applyUpdate(m, u)
	return true, nil
}

func (s *MemoryStore) TransitionByCarrierID(ctx context.Context, carrierID string, from model.Status, u model.StatusUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.messages {
		if m.CarrierID == nil || *m.CarrierID != carrierID {
			continue
		}
		if m.Status != from {
			return false, nil
		}
		s.messages[id] = applyUpdate(m, u)
		return true, nil
	}
	return false, nil
}

func applyUpdate(m model.Message, u model.StatusUpdate) model.Message {
	m.Status = u.Status
	if u.CarrierID != nil {
		m.CarrierID = u.CarrierID
	}
	if u.ErrorCode != nil {
		m.ErrorCode = u.ErrorCode
	}
	if u.ErrorMessage != nil {
		m.ErrorMessage = u.ErrorMessage
	}
	m.UpdatedAt = u.At
	if u.Status == model.Read && m.ReadAt == nil {
		at := u.At
		m.ReadAt = &at
	}
	return m
}

func (s *MemoryStore) ListConversation(ctx context.Context, userA, userB string, limit, offset int) ([]model.Message, error) {
	return s.list(limit, offset, func(m model.Message) bool {
		return (m.SenderID == userA && m.RecipientID == userB) ||
			(m.SenderID == userB && m.RecipientID == userA)
	}), nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Message, error) {
	return s.list(limit, offset, func(m model.Message) bool {
		return m.SenderID == userID || m.RecipientID == userID
	}), nil
}

func (s *MemoryStore) list(limit, offset int, keep func(model.Message) bool) []model.Message {
	limit, offset = clampPage(limit, offset)

	s.mu.Lock()
	var out []model.Message
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	sortByCreated(out)
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) LatestOutboundTo(ctx context.Context, recipientID string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.Message
	for _, m := range s.messages {
		if m.Direction != model.Outbound || m.RecipientID != recipientID {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = &m
		}
	}
	if latest == nil {
		return model.Message{}, ErrNotFound
	}
	return *latest, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, readerID, messageID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || !unreadInboundFor(m, readerID) {
		return false, nil
	}
	s.messages[messageID] = markRead(m, at)
	return true, nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, readerID, otherID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.messages {
		if m.SenderID != otherID || !unreadInboundFor(m, readerID) {
			continue
		}
		s.messages[id] = markRead(m, at)
		n++
	}
	return n, nil
}

func unreadInboundFor(m model.Message, readerID string) bool {
	return m.Direction == model.Inbound && m.RecipientID == readerID && m.ReadAt == nil && !m.Status.Terminal()
}

func markRead(m model.Message, at time.Time) model.Message {
	m.Status = model.Read
	m.ReadAt = &at
	m.UpdatedAt = at
	return m
}

func (s *MemoryStore) FailStaleQueued(ctx context.Context, before time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.messages {
		if m.Direction != model.Outbound || m.Status != model.Queued || !m.CreatedAt.Before(before) {
			continue
		}
		s.messages[id] = applyUpdate(m, model.StatusUpdate{
			Status:       model.Failed,
			ErrorCode:    model.StringPtr("abandoned"),
			ErrorMessage: model.StringPtr(reason),
			At:           s.now(),
		})
		n++
	}
	return n, nil
}

func (s *MemoryStore) CreateBulk(ctx context.Context, b *model.BulkMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulks[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetBulk(ctx context.Context, id string) (model.BulkMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok {
		return model.BulkMessage{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) UpdateBulkSummary(ctx context.Context, id string, sum model.BulkSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok {
		return ErrNotFound
	}
	b.TotalRecipients -= sum.Uncreated
	b.SegmentCount = sum.SegmentCount
	b.SuccessCount = sum.SuccessCount
	b.FailureCount = sum.FailureCount
	s.bulks[id] = b
	return nil
}

func (s *MemoryStore) IncrementBulkRecipients(ctx context.Context, id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bulks[id]
	if !ok {
		return ErrNotFound
	}
	b.TotalRecipients += n
	s.bulks[id] = b
	return nil
}

func (s *MemoryStore) GetPreference(ctx context.Context, recipientID string) (*model.Preference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[recipientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) UpsertPreference(ctx context.Context, recipientID string, optedOut bool, reason string) (model.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := model.Preference{
		RecipientID: recipientID,
		OptedOut:    optedOut,
		Reason:      reason,
		UpdatedAt:   now,
	}
	if optedOut {
		p.OptedOutAt = &now
	}
	s.prefs[recipientID] = p
	return p, nil
}

func (s *MemoryStore) ListOptedOut(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, p := range s.prefs {
		if p.OptedOut {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) FindProfiles(ctx context.Context, q DirectoryQuery) ([]model.Profile, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f := q.Filter.Normalized()

	s.mu.Lock()
	var matched []model.Profile
	for _, p := range s.profiles {
		if q.RequirePhone && (p.Phone == nil || strings.TrimSpace(*p.Phone) == "") {
			continue
		}
		if slices.Contains(q.ExcludeIDs, p.ID) {
			continue
		}
		if !matchesAny(f.RoleTypes, p.RoleType) || !matchesAny(f.Teams, p.Team) ||
			!matchesAny(f.Areas, p.Area) || !matchesAny(f.Regions, p.Region) {
			continue
		}
		matched = append(matched, p)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastName != matched[j].LastName {
			return matched[i].LastName < matched[j].LastName
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	offset := max(q.Offset, 0)
	if offset >= total {
		return nil, total, nil
	}
	page := matched[offset:]
	if q.Limit > 0 && len(page) > q.Limit {
		page = page[:q.Limit]
	}
	return page, total, nil
}

func matchesAny(want []string, got *string) bool {
	if len(want) == 0 {
		return true
	}
	return got != nil && slices.Contains(want, *got)
}

func (s *MemoryStore) FindProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) FindProfileByPhone(ctx context.Context, phone string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.Phone != nil && *p.Phone == phone {
			return &p, nil
		}
	}
	return nil, nil
}

func sortByCreated(ms []model.Message) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}
