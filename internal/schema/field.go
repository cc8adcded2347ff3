package schema

type Field struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Required  bool     `json:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Nullable  bool     `json:"nullable,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	Precision int      `json:"precision,omitempty"`
	Auto      string   `json:"auto,omitempty"` // "create" or "update"
}

// IsText returns true for string-like field types.
func (f Field) IsText() bool {
	return f.Type == "string" || f.Type == "text"
}

// IsNumeric returns true for number-like field types.
func (f Field) IsNumeric() bool {
	switch f.Type {
	case "int", "bigint", "decimal", "float":
		return true
	}
	return false
}

// IsTemporal returns true for date/time field types.
func (f Field) IsTemporal() bool {
	return f.Type == "timestamp" || f.Type == "date"
}

// IsGeometry returns true for spatial field types.
func (f Field) IsGeometry() bool {
	return f.Type == "geometry" || f.Type == "point"
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}
