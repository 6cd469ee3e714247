package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/AlterEgo/internal/models"
)

// InMemoryStore keeps everything in process memory. Safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	profiles   map[string]*models.Profile
	order      []string
	history    []models.WinEntry
	contracts  []models.Contract
	scores     map[string]map[string]models.DayScore
	nextWinID  int64
	nextContID int64
	now        func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]*models.Profile),
		scores:   make(map[string]map[string]models.DayScore),
		now:      time.Now,
	}
}

func copyProfile(p *models.Profile) *models.Profile {
	c := *p
	return &c
}

func (s *InMemoryStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return copyProfile(p), nil
}

// ensureLocked creates the profile if missing. Caller holds s.mu.
func (s *InMemoryStore) ensureLocked(userID string) *models.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		now := s.now()
		p = &models.Profile{
			UserID:    userID,
			Status:    models.SubscriptionNone,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.profiles[userID] = p
		s.order = append(s.order, userID)
	}
	return p
}

func (s *InMemoryStore) EnsureProfile(ctx context.Context, userID, displayName, username string) (*models.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.profiles[userID]
	p := s.ensureLocked(userID)
	if !existed {
		p.DisplayName = displayName
		p.Username = username
	}
	return copyProfile(p), nil
}

func (s *InMemoryStore) UpsertProfile(ctx context.Context, userID string, update models.ProfileUpdate) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(userID)
	update.Apply(p)
	p.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) ActivateSubscription(ctx context.Context, userID string, now time.Time, period time.Duration) (*models.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensureLocked(userID)
	if !p.IsActive(now) || p.SubscriptionStart == nil {
		start := now
		p.SubscriptionStart = &start
		p.LastCompletedDay = 0
		p.ProgramCompletedAt = nil
	}
	expiry := now.Add(period)
	p.Status = models.SubscriptionActive
	p.SubscriptionExpiry = &expiry
	p.UpdatedAt = now
	return copyProfile(p), nil
}

func (s *InMemoryStore) SetLastCompletedDay(ctx context.Context, userID string, day int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return models.ErrProfileNotFound
	}
	p.LastCompletedDay = day
	p.UpdatedAt = s.now()
	return nil
}

func (s *InMemoryStore) MarkProgramCompleted(ctx context.Context, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return false, models.ErrProfileNotFound
	}
	if p.ProgramCompletedAt != nil {
		return false, nil
	}
	t := at
	p.ProgramCompletedAt = &t
	return true, nil
}

func (s *InMemoryStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Profile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.profiles[id])
	}
	return out, nil
}

func (s *InMemoryStore) AppendHistory(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWinID++
	s.history = append(s.history, models.WinEntry{ID: s.nextWinID, UserID: userID, Text: text, CreatedAt: s.now()})
	return nil
}

func (s *InMemoryStore) ListHistory(ctx context.Context) ([]models.WinEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WinEntry, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (s *InMemoryStore) AppendContract(ctx context.Context, userID, goal, deadline, stake string) (*models.Contract, error) {
	c := models.Contract{UserID: userID, Goal: goal, Deadline: deadline, Stake: stake, Status: models.ContractActive}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextContID++
	c.ID = s.nextContID
	c.CreatedAt = s.now()
	s.contracts = append(s.contracts, c)
	return &c, nil
}

func (s *InMemoryStore) ListContracts(ctx context.Context, userID string) ([]models.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Contract
	for i := len(s.contracts) - 1; i >= 0; i-- {
		if s.contracts[i].UserID == userID {
			out = append(out, s.contracts[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecordDayScore(ctx context.Context, userID, date string, score int) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, models.ErrEmptyUserID
	}
	if err := models.ValidateScore(score); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byDate, ok := s.scores[userID]
	if !ok {
		byDate = make(map[string]models.DayScore)
		s.scores[userID] = byDate
	}
	if _, exists := byDate[date]; exists {
		return false, nil
	}
	byDate[date] = models.DayScore{UserID: userID, Date: date, Score: score, CreatedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) RecentScores(ctx context.Context, userID string, limit int) ([]models.DayScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DayScore
	for _, sc := range s.scores[userID] {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
