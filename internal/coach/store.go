package coach

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/rs/xid"
	"gorm.io/gorm"
)

// ErrDeadLetterNotFound is returned for unknown dead-letter ids.
var ErrDeadLetterNotFound = errors.New("coach: dead letter not found")

// DeadLetter holds a session summary that exhausted all save retries.
type DeadLetter struct {
	data.BaseModel

	SessionID  string `gorm:"type:varchar(50);not null;index:idx_dl_session" json:"session_id"`
	Activity   string `gorm:"type:varchar(50)"                               json:"activity"`
	Payload    string `gorm:"type:text;not null"                             json:"payload"`
	LastError  string `gorm:"type:text"                                      json:"last_error"`
	Attempts   int    `gorm:"default:0"                                      json:"attempts"`
	Replayable bool   `gorm:"default:true"                                   json:"replayable"`
}

func (DeadLetter) TableName() string { return "summary_dead_letters" }

// DeadLetterStore keeps unsaved summaries for later replay.
type DeadLetterStore interface {
	Create(ctx context.Context, dl *DeadLetter) error
	Get(ctx context.Context, id string) (*DeadLetter, error)
	ListReplayable(ctx context.Context) ([]DeadLetter, error)
	MarkReplayed(ctx context.Context, id string) error
}

// GormDeadLetterStore persists dead letters through frame's datastore pool.
type GormDeadLetterStore struct {
	pool pool.Pool
}

// NewGormDeadLetterStore creates a store over the given pool.
func NewGormDeadLetterStore(p pool.Pool) *GormDeadLetterStore {
	return &GormDeadLetterStore{pool: p}
}

func (s *GormDeadLetterStore) db(ctx context.Context, readOnly bool) *gorm.DB {
	return s.pool.DB(ctx, readOnly)
}

// Migrate creates the dead-letter table.
func (s *GormDeadLetterStore) Migrate(ctx context.Context) error {
	return s.db(ctx, false).AutoMigrate(&DeadLetter{})
}

func (s *GormDeadLetterStore) Create(ctx context.Context, dl *DeadLetter) error {
	return s.db(ctx, false).Create(dl).Error
}

func (s *GormDeadLetterStore) Get(ctx context.Context, id string) (*DeadLetter, error) {
	var dl DeadLetter
	err := s.db(ctx, true).Where("id = ?", id).First(&dl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

func (s *GormDeadLetterStore) ListReplayable(ctx context.Context) ([]DeadLetter, error) {
	var letters []DeadLetter
	err := s.db(ctx, true).
		Where("replayable = ?", true).
		Order("created_at DESC").
		Find(&letters).Error
	return letters, err
}

func (s *GormDeadLetterStore) MarkReplayed(ctx context.Context, id string) error {
	return s.db(ctx, false).
		Model(&DeadLetter{}).
		Where("id = ?", id).
		Update("replayable", false).Error
}

// MemoryDeadLetterStore keeps dead letters in process memory.
type MemoryDeadLetterStore struct {
	mu      sync.RWMutex
	letters map[string]*DeadLetter
}

// NewMemoryDeadLetterStore creates an empty in-memory store.
func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{letters: make(map[string]*DeadLetter)}
}

func (s *MemoryDeadLetterStore) Create(_ context.Context, dl *DeadLetter) error {
	if dl.ID == "" {
		dl.ID = xid.New().String()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	cp := *dl
	s.mu.Lock()
	s.letters[dl.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryDeadLetterStore) Get(_ context.Context, id string) (*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dl, ok := s.letters[id]
	if !ok {
		return nil, ErrDeadLetterNotFound
	}
	cp := *dl
	return &cp, nil
}

func (s *MemoryDeadLetterStore) ListReplayable(context.Context) ([]DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeadLetter, 0, len(s.letters))
	for _, dl := range s.letters {
		if dl.Replayable {
			out = append(out, *dl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDeadLetterStore) MarkReplayed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.letters[id]
	if !ok {
		return ErrDeadLetterNotFound
	}
	dl.Replayable = false
	return nil
}
