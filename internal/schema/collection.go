package schema

type Collection struct {
	Name       string     `json:"name"`
	Table      string     `json:"table"`
	PrimaryKey PrimaryKey `json:"primary_key"`
	Fields     []Field    `json:"fields"`
}

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (c *Collection) GetField(name string) *Field {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the collection has a field with the given name.
func (c *Collection) HasField(name string) bool {
	return c.GetField(name) != nil
}

// FieldNames returns all field names.
func (c *Collection) FieldNames() []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

// TextFieldNames returns the names of all string-like fields. Used as the
// implicit column set for full-text search when the caller names none.
func (c *Collection) TextFieldNames() []string {
	var names []string
	for _, f := range c.Fields {
		if f.IsText() {
			names = append(names, f.Name)
		}
	}
	return names
}
