// Package registry caches the read-heavy type configuration (relationships,
// transitions, statuses) as an immutable snapshot. Engines receive a
// snapshot per call instead of querying ambient state; writers reload
// after configuration changes.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zulandar/trellis/internal/models"
	"gorm.io/gorm"
)

var loadCounter atomic.Int64

// Snapshot is an immutable view of the configuration tables at one load.
type Snapshot struct {
	version        int64
	byParentType   map[uint][]models.TypeRelationship
	byTypePair     map[[2]uint]*models.TypeRelationship
	transitions    map[[3]uint]*models.StatusTransition
	statusesByType map[uint][]models.Status
	statusByID     map[uint]*models.Status
}

// Load reads all live configuration rows into a new Snapshot.
func Load(db *gorm.DB) (*Snapshot, error) {
	s := &Snapshot{
		version:        loadCounter.Add(1),
		byParentType:   make(map[uint][]models.TypeRelationship),
		byTypePair:     make(map[[2]uint]*models.TypeRelationship),
		transitions:    make(map[[3]uint]*models.StatusTransition),
		statusesByType: make(map[uint][]models.Status),
		statusByID:     make(map[uint]*models.Status),
	}

	var rels []models.TypeRelationship
	if err := db.Find(&rels).Error; err != nil {
		return nil, fmt.Errorf("registry: load relationships: %w", err)
	}
	for i := range rels {
		r := rels[i]
		s.byParentType[r.ParentTypeID] = append(s.byParentType[r.ParentTypeID], r)
		s.byTypePair[[2]uint{r.ParentTypeID, r.ChildTypeID}] = &rels[i]
	}
	for _, list := range s.byParentType {
		sort.SliceStable(list, func(i, j int) bool { return list[i].DisplayOrder < list[j].DisplayOrder })
	}

	var trans []models.StatusTransition
	if err := db.Find(&trans).Error; err != nil {
		return nil, fmt.Errorf("registry: load transitions: %w", err)
	}
	for i := range trans {
		tr := trans[i]
		s.transitions[[3]uint{tr.TypeID, tr.FromStatusID, tr.ToStatusID}] = &trans[i]
	}

	var statuses []models.Status
	if err := db.Order("display_order ASC").Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("registry: load statuses: %w", err)
	}
	for i := range statuses {
		st := statuses[i]
		s.statusesByType[st.TypeID] = append(s.statusesByType[st.TypeID], st)
		s.statusByID[st.ID] = &statuses[i]
	}

	return s, nil
}

// Version identifies this snapshot; strictly increasing across loads.
func (s *Snapshot) Version() int64 { return s.version }

// RelationshipsFor returns the live relationships declared on a parent
// type, in display order.
func (s *Snapshot) RelationshipsFor(parentTypeID uint) []models.TypeRelationship {
	return s.byParentType[parentTypeID]
}

// Relationship looks up the declared relationship for a (parent, child)
// type pair. Returns nil when none is declared.
func (s *Snapshot) Relationship(parentTypeID, childTypeID uint) *models.TypeRelationship {
	return s.byTypePair[[2]uint{parentTypeID, childTypeID}]
}

// Transition looks up the declared transition row for an exact
// (type, from, to) triple. Returns nil when none is declared.
func (s *Snapshot) Transition(typeID, fromStatusID, toStatusID uint) *models.StatusTransition {
	return s.transitions[[3]uint{typeID, fromStatusID, toStatusID}]
}

// Statuses returns a type's status set in display order.
func (s *Snapshot) Statuses(typeID uint) []models.Status {
	return s.statusesByType[typeID]
}

// Status resolves a status row by id. Returns nil when unknown.
func (s *Snapshot) Status(id uint) *models.Status {
	return s.statusByID[id]
}

// InitialStatus returns the first status flagged is_initial on a type,
// or nil when the type declares none.
func (s *Snapshot) InitialStatus(typeID uint) *models.Status {
	for i, st := range s.statusesByType[typeID] {
		if st.IsInitial {
			return &s.statusesByType[typeID][i]
		}
	}
	return nil
}

// Registry holds the current snapshot and swaps it atomically on reload.
type Registry struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// New loads an initial snapshot and returns a Registry around it.
func New(db *gorm.DB) (*Registry, error) {
	snap, err := Load(db)
	if err != nil {
		return nil, err
	}
	return &Registry{snap: snap}, nil
}

// Current returns the active snapshot.
func (r *Registry) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Reload replaces the active snapshot. Called after configuration writes.
func (r *Registry) Reload(db *gorm.DB) error {
	snap, err := Load(db)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}
