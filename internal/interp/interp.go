// Package interp resolves {parent.*} template tokens against a work item
// snapshot. Rendering is total: unknown fields and null values become the
// empty string, never an error. Syntax problems are caught once, at
// configuration-save time, by Validate.
package interp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/trellis/internal/models"
)

// DateFormat is how date values render inside templates.
const DateFormat = "2006-01-02"

// Snapshot is a flattened, render-ready view of one work item's standard
// and custom fields. Values are pre-formatted strings (dates as YYYY-MM-DD).
type Snapshot struct {
	standard map[string]string
	custom   map[string]string
}

// NewSnapshot builds a Snapshot from a work item and its loaded custom
// field values.
func NewSnapshot(item *models.WorkItem) Snapshot {
	s := Snapshot{
		standard: make(map[string]string),
		custom:   make(map[string]string),
	}
	if item == nil {
		return s
	}
	s.standard["id"] = item.ID
	s.standard["subject"] = item.Subject
	s.standard["priority"] = strconv.Itoa(item.Priority)
	s.standard["assignee"] = item.Assignee
	s.standard["creator"] = item.Creator
	s.standard["organization"] = item.OrganizationID
	if item.DueDate != nil {
		s.standard["due_date"] = item.DueDate.Format(DateFormat)
	}
	for _, f := range item.Fields {
		s.custom[f.Name] = formatValue(f.FieldType, f.Value)
	}
	return s
}

// Standard returns a standard field value by name.
func (s Snapshot) Standard(name string) (string, bool) {
	v, ok := s.standard[name]
	return v, ok
}

// Custom returns a custom field value by name.
func (s Snapshot) Custom(name string) (string, bool) {
	v, ok := s.custom[name]
	return v, ok
}

// Lookup resolves a bare field name, checking standard fields first.
func (s Snapshot) Lookup(name string) (string, bool) {
	if v, ok := s.standard[name]; ok {
		return v, true
	}
	v, ok := s.custom[name]
	return v, ok
}

// SetStatus records the item's current status name under the "status"
// standard field. Status names live in their own table, so callers that
// know the name attach it before evaluating predicate rules or rendering
// templates that reference {parent.status}.
func (s Snapshot) SetStatus(name string) {
	s.standard["status"] = name
}

// formatValue normalizes a stored field value for rendering. Dates stored
// in any of the accepted layouts come out as YYYY-MM-DD.
func formatValue(fieldType, value string) string {
	if fieldType != models.FieldDate || value == "" {
		return value
	}
	for _, layout := range []string{DateFormat, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Format(DateFormat)
		}
	}
	return value
}

// Render substitutes every {parent.field} and {parent.custom.field} token
// in tmpl with values from the snapshot. Missing fields resolve to the
// empty string. Render never fails.
func Render(tmpl string, parent Snapshot) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			// Unclosed brace: emit the remainder verbatim.
			b.WriteString(tmpl[i:])
			break
		}
		token := tmpl[i+1 : i+end]
		b.WriteString(resolve(token, parent))
		i += end + 1
	}
	return b.String()
}

// resolve maps one brace token to its value. Anything that is not a
// well-formed parent reference resolves to the empty string.
func resolve(token string, parent Snapshot) string {
	if name, ok := strings.CutPrefix(token, "parent.custom."); ok {
		v, _ := parent.Custom(name)
		return v
	}
	if name, ok := strings.CutPrefix(token, "parent."); ok {
		v, _ := parent.Standard(name)
		return v
	}
	return ""
}

// Validate performs a syntax-only pass over a template. It is run when
// configuration is saved so that runtime rendering never has to fail.
func Validate(tmpl string) error {
	depth := 0
	start := 0
	for i := 0; i < len(tmpl); i++ {
		switch tmpl[i] {
		case '{':
			if depth > 0 {
				return fmt.Errorf("interp: nested braces at position %d", i)
			}
			depth++
			start = i + 1
		case '}':
			if depth == 0 {
				return fmt.Errorf("interp: unbalanced closing brace at position %d", i)
			}
			depth--
			if err := validateToken(tmpl[start:i]); err != nil {
				return err
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("interp: unbalanced opening brace")
	}
	return nil
}

// validateToken checks one brace token's shape.
func validateToken(token string) error {
	name := token
	if n, ok := strings.CutPrefix(token, "parent.custom."); ok {
		name = n
	} else if n, ok := strings.CutPrefix(token, "parent."); ok {
		name = n
	} else {
		return fmt.Errorf("interp: unknown token shape {%s}", token)
	}
	if name == "" {
		return fmt.Errorf("interp: empty field name in {%s}", token)
	}
	for _, c := range name {
		if !isFieldChar(c) {
			return fmt.Errorf("interp: invalid field name in {%s}", token)
		}
	}
	return nil
}

func isFieldChar(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
