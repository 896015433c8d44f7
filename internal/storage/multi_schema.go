// TableSpec types live here so both multitable and backend packages can import them without circular deps.
package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Backends map these to native DDL types.
const (
	TypeText      = "text"
	TypeInt       = "int"
	TypeBigInt    = "bigint"
	TypeFloat     = "float"
	TypeTimestamp = "timestamp"
	TypeSerial    = "serial"
)

type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

// PrimaryKeySpec names the primary key column. It is not repeated in Columns.
// Type "serial" means a backend-generated surrogate id.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColumnSpec struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	References *ReferenceSpec `json:"references,omitempty"`
	// Nullable defaults to true when nil.
	Nullable *bool `json:"nullable,omitempty"`
}

type ReferenceSpec struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// IsNullable reports whether the column accepts NULL.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// ColumnNames returns the insertable column names (primary key first unless it is serial).
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil && !strings.EqualFold(t.PrimaryKey.Type, TypeSerial) {
		out = append(out, t.PrimaryKey.Name)
	}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// IsKeyColumn reports whether name takes part in the primary key, a unique
// constraint, or a foreign key. Some backends need bounded types for those.
func (t TableSpec) IsKeyColumn(name string) bool {
	if t.PrimaryKey != nil && t.PrimaryKey.Name == name {
		return true
	}
	for _, con := range t.Constraints {
		for _, c := range con.Columns {
			if c == name {
				return true
			}
		}
	}
	for _, c := range t.Columns {
		if c.Name == name && c.References != nil {
			return true
		}
	}
	return false
}

// Validate checks the structural rules every backend relies on.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if t.PrimaryKey != nil && (strings.TrimSpace(t.PrimaryKey.Name) == "" || strings.TrimSpace(t.PrimaryKey.Type) == "") {
		return fmt.Errorf("table %s: primary_key.name and primary_key.type are required", t.Name)
	}
	if len(t.Columns) == 0 && t.PrimaryKey == nil {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("table %s: column name/type must be set", t.Name)
		}
	}
	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
	}
	return nil
}

// BoolPtr is a helper for ColumnSpec.Nullable literals.
func BoolPtr(b bool) *bool { return &b }
