package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-querykit/core"
	"github.com/asaidimu/go-querykit/core/query"
	"github.com/asaidimu/go-querykit/core/schema"
	"go.uber.org/zap"
)

// RecordCache holds the records a unit of work has loaded, keyed by entity
// and primary key. Bulk mutations bypass it, so they must invalidate it.
type RecordCache struct {
	descriptor *schema.Descriptor
	logger     *zap.Logger
	records    map[string]map[string]*query.Record
	mu         sync.RWMutex
}

// NewRecordCache creates an empty cache for the entities of d.
func NewRecordCache(d *schema.Descriptor, logger *zap.Logger) *RecordCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordCache{
		descriptor: d,
		logger:     logger,
		records:    make(map[string]map[string]*query.Record),
	}
}

// Put stores r under its primary key, replacing any previous record.
func (c *RecordCache) Put(r *query.Record) error {
	def, err := c.descriptor.Entity(r.Entity())
	if err != nil {
		return err
	}
	id := r.Get(def.PrimaryKey)
	if id == nil {
		return fmt.Errorf("record of %s has no value for primary key %s", def.Name, def.PrimaryKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.records[def.Name]
	if !ok {
		byID = make(map[string]*query.Record)
		c.records[def.Name] = byID
	}
	byID[cacheKey(id)] = r
	return nil
}

// Get returns the cached record of entity with the given primary key.
func (c *RecordCache) Get(entity string, id any) (*query.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[entity][cacheKey(id)]
	return r, ok
}

// Load returns the record of entity with the given primary key. A cached
// record is returned as is; otherwise it is read through ec and cached.
func (c *RecordCache) Load(ctx context.Context, ec ExecutionContext, entity string, id any) (*query.Record, error) {
	if r, ok := c.Get(entity, id); ok {
		return r, nil
	}
	def, err := c.descriptor.Entity(entity)
	if err != nil {
		return nil, err
	}
	plan, err := query.SelectFrom(def.Name).
		Where(query.Eq(def.Name+"."+def.PrimaryKey, id)).
		Build(c.descriptor)
	if err != nil {
		return nil, err
	}
	rows, err := ec.RunQuery(ctx, plan.WithWindow(0, 1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &core.NotFoundError{Label: fmt.Sprintf("%s %v", def.Name, id)}
	}
	v, err := plan.Project(rows[0])
	if err != nil {
		return nil, err
	}
	record := v.(*query.Record)
	if err := c.Put(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Invalidate removes the records of entity that filter matches and returns
// how many were removed. A nil filter removes them all. When the filter
// cannot be evaluated in memory, every record of entity is removed.
func (c *RecordCache) Invalidate(entity string, filter query.Filter) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID := c.records[entity]
	if len(byID) == 0 {
		return 0
	}
	if query.IsEmpty(filter) {
		delete(c.records, entity)
		return len(byID)
	}

	total := len(byID)
	evicted := 0
	for key, r := range byID {
		matched, err := query.Match(filter, r)
		if err != nil {
			c.logger.Debug("Filter not evaluable in memory, evicting entity",
				zap.String("entity", entity),
				zap.Error(err))
			delete(c.records, entity)
			return total
		}
		if matched {
			delete(byID, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of cached records of entity.
func (c *RecordCache) Len(entity string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records[entity])
}

// Clear removes every record.
func (c *RecordCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]map[string]*query.Record)
}

func cacheKey(id any) string {
	if v, ok := query.ToInt64(id); ok {
		return fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("%v", id)
}
