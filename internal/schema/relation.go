package schema

// Relation describes one named association on a source collection. The name
// is what callers use in relation paths ("author", "tags"); it is unique per
// source collection.
//
// Key layout per type:
//
//	belongs_to:   source.SourceKey -> target primary key
//	has_many:     target.TargetKey -> source primary key
//	many_to_many: JoinTable with SourceJoinKey/TargetJoinKey
//	polymorphic:  like many_to_many, plus TypeField on the join table naming
//	              the target collection of each row
type Relation struct {
	Name          string `json:"name"`
	Type          string `json:"type"` // belongs_to, has_many, many_to_many, polymorphic
	Source        string `json:"source"`
	Target        string `json:"target"`
	SourceKey     string `json:"source_key,omitempty"`
	TargetKey     string `json:"target_key,omitempty"`
	JoinTable     string `json:"join_table,omitempty"`
	SourceJoinKey string `json:"source_join_key,omitempty"`
	TargetJoinKey string `json:"target_join_key,omitempty"`
	TypeField     string `json:"type_field,omitempty"`
}

func (r *Relation) IsBelongsTo() bool {
	return r.Type == "belongs_to"
}

func (r *Relation) IsHasMany() bool {
	return r.Type == "has_many"
}

func (r *Relation) IsManyToMany() bool {
	return r.Type == "many_to_many" || r.Type == "polymorphic"
}

func (r *Relation) IsPolymorphic() bool {
	return r.Type == "polymorphic"
}

// ToOne reports whether traversing the relation yields at most one row per
// source row. The join resolver records this as join cardinality.
func (r *Relation) ToOne() bool {
	return r.IsBelongsTo()
}
