// Package roster turns a raw recipient table into a clean, deduplicated recipient list.
package roster

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Required column names, matched case-insensitively.
const (
	ColumnName  = "name"
	ColumnEmail = "email"
)

// Recipient is one normalized roster entry.
type Recipient struct {
	Name  string // trimmed, title-cased
	Email string // trimmed, lowercased
}

// Key is the deduplication key of a Recipient.
type Key struct {
	Name  string
	Email string
}

// Key returns the exact normalized pair used for deduplication.
func (r Recipient) Key() Key {
	return Key{Name: r.Name, Email: r.Email}
}

func (r Recipient) String() string {
	return r.Name + " <" + r.Email + ">"
}

// Table is raw tabular input: a header row and data rows, any column order or case.
type Table struct {
	Header []string
	Rows   [][]string
}

// Roster is the result of normalization.
type Roster struct {
	Recipients []Recipient // first occurrence order
	Rejected   []RowError  // rows that could not form a Recipient
	Duplicates int         // rows dropped as exact duplicates
}

// Normalize validates the schema of t and returns its recipients, deduplicated on the
// normalized (name, email) pair with the first occurrence kept.
func Normalize(t Table) (*Roster, error) {
	nameCol, emailCol := -1, -1
	for i, h := range t.Header {
		switch normalizeHeader(h) {
		case ColumnName:
			if nameCol < 0 {
				nameCol = i
			}
		case ColumnEmail:
			if emailCol < 0 {
				emailCol = i
			}
		}
	}

	var missing []string
	if nameCol < 0 {
		missing = append(missing, ColumnName)
	}
	if emailCol < 0 {
		missing = append(missing, ColumnEmail)
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	n := newNormalizer()
	out := &Roster{Recipients: make([]Recipient, 0, len(t.Rows))}
	seen := make(map[Key]struct{}, len(t.Rows))

	for i, row := range t.Rows {
		r, err := n.recipient(cell(row, nameCol), cell(row, emailCol))
		if err != nil {
			out.Rejected = append(out.Rejected, RowError{Row: i + 1, Reason: err.Error()})
			continue
		}
		if _, ok := seen[r.Key()]; ok {
			out.Duplicates++
			continue
		}
		seen[r.Key()] = struct{}{}
		out.Recipients = append(out.Recipients, r)
	}

	return out, nil
}

// Single normalizes one ad-hoc recipient.
func Single(name, email string) (Recipient, error) {
	r, err := newNormalizer().recipient(name, email)
	if err != nil {
		return Recipient{}, &RowError{Row: 1, Reason: err.Error()}
	}
	return r, nil
}

// normalizer holds a title caser. Casers are stateful, so one per call.
type normalizer struct {
	title cases.Caser
	lower cases.Caser
}

func newNormalizer() *normalizer {
	return &normalizer{
		title: cases.Title(language.Und),
		lower: cases.Lower(language.Und),
	}
}

func (n *normalizer) recipient(name, email string) (Recipient, error) {
	name = n.title.String(strings.TrimSpace(name))
	email = n.lower.String(strings.TrimSpace(email))

	switch {
	case name == "" && email == "":
		return Recipient{}, errEmptyRow
	case name == "":
		return Recipient{}, errEmptyName
	case email == "":
		return Recipient{}, errEmptyEmail
	}
	return Recipient{Name: name, Email: email}, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ToLower(strings.TrimSpace(h))
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
