package persistence

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is the stored form of an entity. Data holds typed values
// (string, int64, float64, bool) keyed by property name.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deleted   bool           `json:"-"`
	Data      map[string]any `json:"data"`
}

func (r *Record) Clone() *Record {
	cp := *r
	cp.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		cp.Data[k] = v
	}
	return &cp
}

// Filter matches records whose property equals one of Values.
// Like switches to a case-insensitive contains match on the first value.
type Filter struct {
	Field  string
	Values []string
	Like   bool
}

type SortKey struct {
	Field string
	Desc  bool
}

// Query selects records of a root class.
type Query struct {
	Root    string
	Types   []string // concrete classes to include, empty = all
	Filters []Filter
	Sort    []SortKey
	Nulls   string // "last" (default) | "first"
	Offset  int
	Limit   int // 0 = unlimited
}

// RecordStore persists records grouped by the root class of their hierarchy.
type RecordStore interface {
	Insert(ctx context.Context, root string, rec *Record) error
	// Update stores rec when rec.Version matches the stored version and bumps it.
	Update(ctx context.Context, root string, rec *Record) error
	Get(ctx context.Context, root, id string) (*Record, error)
	Delete(ctx context.Context, root, id string) error
	// List returns one page and the total number of matches.
	List(ctx context.Context, q Query) ([]*Record, int, error)
	Count(ctx context.Context, q Query) (int, error)
}

// IDGenerator issues monotonic ULIDs.
type IDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

func NewIDGenerator() *IDGenerator {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &IDGenerator{entropy: ulid.Monotonic(src, 0)}
}

func (g *IDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
