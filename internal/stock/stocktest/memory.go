// Package stocktest provides an in-memory stock store for service tests.
// It mirrors the transactional contract of the PostgreSQL repository,
// including rollback on error, so composed write paths can be tested for
// atomicity without a database.
package stocktest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// Key identifies one (variation, branch) pair.
type Key struct {
	VariationID int64
	BranchID    int64
}

// Store holds stock state in memory.
type Store struct {
	Records   map[Key]stock.Record
	Movements []stock.Movement
	nextID    int64
	now       time.Time
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{Records: make(map[Key]stock.Record), now: time.Unix(1700000000, 0).UTC()}
}

// Snapshot captures the current state for rollback.
type Snapshot struct {
	records   map[Key]stock.Record
	movements []stock.Movement
	nextID    int64
}

// Snapshot returns a deep copy of the store state.
func (s *Store) Snapshot() Snapshot {
	records := make(map[Key]stock.Record, len(s.Records))
	for k, v := range s.Records {
		records[k] = v
	}
	movements := make([]stock.Movement, len(s.Movements))
	for i, mv := range s.Movements {
		movements[i] = cloneMovement(mv)
	}
	return Snapshot{records: records, movements: movements, nextID: s.nextID}
}

// Restore rolls the store back to a snapshot.
func (s *Store) Restore(snap Snapshot) {
	s.Records = snap.records
	s.Movements = snap.movements
	s.nextID = snap.nextID
}

// WithTx satisfies stock.RepositoryPort. fn errors roll the state back.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	snap := s.Snapshot()
	if err := fn(ctx, s.Tx()); err != nil {
		s.Restore(snap)
		return err
	}
	return nil
}

// Tx returns the transactional view over the shared state. Other packages'
// fakes return this from their own tx wrappers so composed adjustments hit
// one store.
func (s *Store) Tx() stock.TxRepository {
	return &Tx{store: s}
}

// GetRecord satisfies stock.RepositoryPort.
func (s *Store) GetRecord(ctx context.Context, variationID, branchID int64) (stock.Record, error) {
	rec, ok := s.Records[Key{variationID, branchID}]
	if !ok {
		return stock.Record{}, stock.ErrNotFound
	}
	return rec, nil
}

// ListMovements satisfies stock.RepositoryPort, newest first.
func (s *Store) ListMovements(ctx context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	out := []stock.Movement{}
	for _, mv := range s.Movements {
		if mv.VariationID == filter.VariationID && mv.BranchID == filter.BranchID {
			out = append(out, cloneMovement(mv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []stock.Movement{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MovementsFor returns committed entries for assertions, oldest first.
func (s *Store) MovementsFor(variationID, branchID int64) []stock.Movement {
	out := []stock.Movement{}
	for _, mv := range s.Movements {
		if mv.VariationID == variationID && mv.BranchID == branchID {
			out = append(out, cloneMovement(mv))
		}
	}
	return out
}

// NetChange sums quantity changes for a pair, for conservation checks.
func (s *Store) NetChange(variationID, branchID int64) int64 {
	var net int64
	for _, mv := range s.Movements {
		if mv.VariationID == variationID && mv.BranchID == branchID {
			net += mv.QuantityChange
		}
	}
	return net
}

// SetRecord seeds a record directly, bypassing the engine.
func (s *Store) SetRecord(rec stock.Record) {
	s.Records[Key{rec.VariationID, rec.BranchID}] = rec
}

// Tx implements stock.TxRepository over the store.
type Tx struct {
	store *Store
}

func (t *Tx) GetRecordForUpdate(ctx context.Context, variationID, branchID int64) (stock.Record, error) {
	return t.store.GetRecord(ctx, variationID, branchID)
}

func (t *Tx) GetRecord(ctx context.Context, variationID, branchID int64) (stock.Record, error) {
	return t.store.GetRecord(ctx, variationID, branchID)
}

func (t *Tx) UpsertRecord(ctx context.Context, rec stock.Record) error {
	rec.UpdatedAt = t.store.tick()
	t.store.Records[Key{rec.VariationID, rec.BranchID}] = rec
	return nil
}

func (t *Tx) InsertMovement(ctx context.Context, mv stock.Movement) (int64, error) {
	t.store.nextID++
	mv.ID = t.store.nextID
	mv.CreatedAt = t.store.tick()
	t.store.Movements = append(t.store.Movements, cloneMovement(mv))
	return mv.ID, nil
}

func (t *Tx) HasMovements(ctx context.Context, variationID, branchID int64) (bool, error) {
	for _, mv := range t.store.Movements {
		if mv.VariationID == variationID && mv.BranchID == branchID {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tx) OpenLayersForUpdate(ctx context.Context, variationID, branchID int64) ([]stock.Layer, error) {
	layers := []stock.Layer{}
	for _, mv := range t.store.Movements {
		if mv.VariationID != variationID || mv.BranchID != branchID {
			continue
		}
		if mv.QuantityRemaining == nil || *mv.QuantityRemaining <= 0 {
			continue
		}
		layers = append(layers, stock.Layer{
			MovementID: mv.ID,
			Remaining:  *mv.QuantityRemaining,
			UnitCost:   mv.UnitCost,
			CreatedAt:  mv.CreatedAt,
		})
	}
	sort.Slice(layers, func(i, j int) bool {
		if layers[i].CreatedAt.Equal(layers[j].CreatedAt) {
			return layers[i].MovementID < layers[j].MovementID
		}
		return layers[i].CreatedAt.Before(layers[j].CreatedAt)
	})
	return layers, nil
}

func (t *Tx) SetLayerRemaining(ctx context.Context, movementID, remaining int64) error {
	for i := range t.store.Movements {
		if t.store.Movements[i].ID != movementID {
			continue
		}
		if t.store.Movements[i].QuantityRemaining == nil {
			return fmt.Errorf("stocktest: movement %d is not a layer", movementID)
		}
		if *t.store.Movements[i].QuantityRemaining < remaining {
			return fmt.Errorf("stocktest: layer %d cannot grow back", movementID)
		}
		v := remaining
		t.store.Movements[i].QuantityRemaining = &v
		return nil
	}
	return fmt.Errorf("stocktest: movement %d not found", movementID)
}

// tick advances the fake clock so layer ordering is deterministic.
func (s *Store) tick() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func cloneMovement(mv stock.Movement) stock.Movement {
	out := mv
	if mv.QuantityRemaining != nil {
		v := *mv.QuantityRemaining
		out.QuantityRemaining = &v
	}
	if mv.UserID != nil {
		v := *mv.UserID
		out.UserID = &v
	}
	return out
}
