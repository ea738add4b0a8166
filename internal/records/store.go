package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/historian/internal/storage"
)

// KV is the named-item storage the collections are persisted in.
type KV interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
}

// Store owns the timeline and learning collections. Every mutation is
// serialized and persists the whole collection before returning.
type Store struct {
	mu     sync.Mutex
	kv     KV
	seed   bool
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// New returns a Store over kv. When seed is true a timeline that has never
// been written is initialised with three example entries.
func New(kv KV, seed bool) *Store {
	return &Store{
		kv:     kv,
		seed:   seed,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// SeedTimeline returns the first-run example entries.
func SeedTimeline() []Timeline {
	return []Timeline{
		{ID: "1", Year: 1066, Era: AD, Title: "Battle of Hastings", Description: "A battle happened in 1066"},
		{ID: "2", Year: 1215, Era: AD, Title: "Magna Carta", Description: "Important document was signed"},
		{ID: "3", Year: 1492, Era: AD, Title: "Columbus Discovers America", Description: "Columbus found new land"},
	}
}

// SortTimeline orders entries by signed year, keeping insertion order on ties.
func SortTimeline(entries []Timeline) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SignedYear() < entries[j].SignedYear()
	})
}

// --- Timeline ---

// Timeline returns all entries in chronological order.
func (s *Store) Timeline() ([]Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTimeline()
}

// GetTimeline returns one entry or ErrNotFound.
func (s *Store) GetTimeline(id string) (Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadTimeline()
	if err != nil {
		return Timeline{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Timeline{}, fmt.Errorf("timeline entry %s: %w", id, ErrNotFound)
}

// CreateTimeline validates in, assigns an id and inserts it in order.
func (s *Store) CreateTimeline(in TimelineInput) (Timeline, error) {
	t, err := validateTimeline(in.Year, in.Era, in.Title, in.Description)
	if err != nil {
		return Timeline{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadTimeline()
	if err != nil {
		return Timeline{}, err
	}
	t.ID = s.newID()
	entries = append(entries, t)
	SortTimeline(entries)
	if err := s.saveTimeline(entries); err != nil {
		return Timeline{}, err
	}
	return t, nil
}

// UpdateTimeline merges p into the entry, re-validates and re-sorts.
func (s *Store) UpdateTimeline(id string, p TimelinePatch) (Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadTimeline()
	if err != nil {
		return Timeline{}, err
	}
	idx := indexTimeline(entries, id)
	if idx < 0 {
		return Timeline{}, fmt.Errorf("timeline entry %s: %w", id, ErrNotFound)
	}

	cur := entries[idx]
	year := YearText(fmt.Sprint(cur.Year))
	era, title, description := cur.Era, cur.Title, cur.Description
	if p.Year != nil {
		year = *p.Year
	}
	if p.Era != nil {
		era = *p.Era
	}
	if p.Title != nil {
		title = *p.Title
	}
	if p.Description != nil {
		description = *p.Description
	}

	updated, err := validateTimeline(year, era, title, description)
	if err != nil {
		return Timeline{}, err
	}
	updated.ID = cur.ID
	entries[idx] = updated
	SortTimeline(entries)

	if err := s.saveTimeline(entries); err != nil {
		return Timeline{}, err
	}
	return updated, nil
}

// DeleteTimeline removes the entry. Deleting an absent id is a no-op.
// The returned bool reports whether anything was removed.
func (s *Store) DeleteTimeline(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadTimeline()
	if err != nil {
		return false, err
	}
	idx := indexTimeline(entries, id)
	if idx < 0 {
		return false, nil
	}
	entries = append(entries[:idx], entries[idx+1:]...)
	return true, s.saveTimeline(entries)
}

func (s *Store) loadTimeline() ([]Timeline, error) {
	raw, err := s.kv.GetItem(storage.KeyTimelineEntries)
	if errors.Is(err, storage.ErrNotFound) {
		if !s.seed {
			return []Timeline{}, nil
		}
		seed := SeedTimeline()
		if err := s.saveTimeline(seed); err != nil {
			return nil, fmt.Errorf("persisting seed timeline: %w", err)
		}
		s.logger.Info("seeded timeline", "entries", len(seed))
		return seed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading timeline: %w", err)
	}

	var entries []Timeline
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("timeline storage is corrupt, treating as empty", "key", storage.KeyTimelineEntries, "error", err)
		return []Timeline{}, nil
	}
	if entries == nil {
		entries = []Timeline{}
	}
	SortTimeline(entries)
	return entries, nil
}

func (s *Store) saveTimeline(entries []Timeline) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding timeline: %w", err)
	}
	if err := s.kv.SetItem(storage.KeyTimelineEntries, string(data)); err != nil {
		return fmt.Errorf("saving timeline: %w", err)
	}
	return nil
}

func indexTimeline(entries []Timeline, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// --- Learning ---

// Learning returns all learning records in creation order.
func (s *Store) Learning() ([]Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLearning()
}

func (s *Store) GetLearning(id string) (Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadLearning()
	if err != nil {
		return Learning{}, err
	}
	if idx := indexLearning(items, id); idx >= 0 {
		return items[idx], nil
	}
	return Learning{}, fmt.Errorf("learning record %s: %w", id, ErrNotFound)
}

// CreateLearning validates in and appends a new unenriched record.
func (s *Store) CreateLearning(in LearningInput) (Learning, error) {
	if err := validateLearning(in.Title, in.YearRange, in.Facts); err != nil {
		return Learning{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadLearning()
	if err != nil {
		return Learning{}, err
	}
	l := Learning{
		ID:        s.newID(),
		Title:     strings.TrimSpace(in.Title),
		YearRange: strings.TrimSpace(in.YearRange),
		Facts:     strings.TrimSpace(in.Facts),
		CreatedAt: s.now(),
	}
	items = append(items, l)
	if err := s.saveLearning(items); err != nil {
		return Learning{}, err
	}
	return l, nil
}

// UpdateLearning merges p into the record. Enrichment is left untouched.
func (s *Store) UpdateLearning(id string, p LearningPatch) (Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadLearning()
	if err != nil {
		return Learning{}, err
	}
	idx := indexLearning(items, id)
	if idx < 0 {
		return Learning{}, fmt.Errorf("learning record %s: %w", id, ErrNotFound)
	}

	l := items[idx]
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.YearRange != nil {
		l.YearRange = *p.YearRange
	}
	if p.Facts != nil {
		l.Facts = *p.Facts
	}
	if err := validateLearning(l.Title, l.YearRange, l.Facts); err != nil {
		return Learning{}, err
	}
	l.Title = strings.TrimSpace(l.Title)
	l.YearRange = strings.TrimSpace(l.YearRange)
	l.Facts = strings.TrimSpace(l.Facts)
	items[idx] = l

	if err := s.saveLearning(items); err != nil {
		return Learning{}, err
	}
	return l, nil
}

// DeleteLearning removes the record. Deleting an absent id is a no-op.
func (s *Store) DeleteLearning(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadLearning()
	if err != nil {
		return false, err
	}
	idx := indexLearning(items, id)
	if idx < 0 {
		return false, nil
	}
	items = append(items[:idx], items[idx+1:]...)
	return true, s.saveLearning(items)
}

// SetLearningEnrichment replaces all generated fields of a record at once.
func (s *Store) SetLearningEnrichment(id string, e LearningEnrichment) (Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadLearning()
	if err != nil {
		return Learning{}, err
	}
	idx := indexLearning(items, id)
	if idx < 0 {
		return Learning{}, fmt.Errorf("learning record %s: %w", id, ErrNotFound)
	}
	if e.GeneratedAt.IsZero() {
		e.GeneratedAt = s.now()
	}
	items[idx].Enrichment = &e

	if err := s.saveLearning(items); err != nil {
		return Learning{}, err
	}
	return items[idx], nil
}

func (s *Store) loadLearning() ([]Learning, error) {
	raw, err := s.kv.GetItem(storage.KeyHistoryClasses)
	if errors.Is(err, storage.ErrNotFound) {
		return []Learning{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading learning records: %w", err)
	}

	var items []Learning
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Warn("learning storage is corrupt, treating as empty", "key", storage.KeyHistoryClasses, "error", err)
		return []Learning{}, nil
	}
	if items == nil {
		items = []Learning{}
	}
	return items, nil
}

func (s *Store) saveLearning(items []Learning) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding learning records: %w", err)
	}
	if err := s.kv.SetItem(storage.KeyHistoryClasses, string(data)); err != nil {
		return fmt.Errorf("saving learning records: %w", err)
	}
	return nil
}

func indexLearning(items []Learning, id string) int {
	for i, l := range items {
		if l.ID == id {
			return i
		}
	}
	return -1
}
