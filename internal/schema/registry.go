package schema

import "sync"

// Registry is the in-memory schema catalog the query compiler validates
// field paths and relation paths against. It is reloaded wholesale on
// startup and after administrative schema changes.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	relations   map[string]map[string]*Relation // source collection -> relation name
}

func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[string]*Collection),
		relations:   make(map[string]map[string]*Relation),
	}
}

// GetCollection returns the collection with the given name, or nil.
func (r *Registry) GetCollection(name string) *Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collections[name]
}

// AllCollections returns all registered collections.
func (r *Registry) AllCollections() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	collections := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		collections = append(collections, c)
	}
	return collections
}

// RelationOn returns the named relation declared on the given source
// collection, or nil. Relation paths are resolved one segment at a time
// through this lookup.
func (r *Registry) RelationOn(collection, name string) *Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName := r.relations[collection]
	if byName == nil {
		return nil
	}
	return byName[name]
}

// RelationsOn returns all relations declared on the given source collection.
func (r *Registry) RelationsOn(collection string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName := r.relations[collection]
	rels := make([]*Relation, 0, len(byName))
	for _, rel := range byName {
		rels = append(rels, rel)
	}
	return rels
}

// Load replaces all collections and relations in the registry.
// Called during startup and after admin mutations.
func (r *Registry) Load(collections []*Collection, relations []*Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collections = make(map[string]*Collection, len(collections))
	for _, c := range collections {
		r.collections[c.Name] = c
	}

	r.relations = make(map[string]map[string]*Relation)
	for _, rel := range relations {
		byName := r.relations[rel.Source]
		if byName == nil {
			byName = make(map[string]*Relation)
			r.relations[rel.Source] = byName
		}
		byName[rel.Name] = rel
	}
}
