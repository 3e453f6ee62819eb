// Package codec encodes items to durable record files (YAML front matter
// followed by a free-form body) and decodes them back. Decode is the
// exact inverse of Encode: every field round-trips, including empty tag
// and related arrays, Unicode, and multi-line bodies.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

// ErrMalformed marks a record whose metadata block is missing or
// unparsable. The rebuild engine skips and counts such files.
var ErrMalformed = errors.New("malformed record")

const delim = "---\n"

// DateLayout is the strict calendar-date form used for start/end dates
// and date-keyed ids.
const DateLayout = "2006-01-02"

// TimestampLayout formats session ids so they sort lexicographically by
// time, with millisecond precision.
const TimestampLayout = "2006-01-02-15.04.05.000"

// frontMatter is the on-disk metadata block. Field order here is the
// order written to the file.
type frontMatter struct {
	Type        string    `yaml:"type"`
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Description string    `yaml:"description,omitempty"`
	Priority    string    `yaml:"priority"`
	Status      string    `yaml:"status"`
	Tags        []string  `yaml:"tags"`
	Related     []string  `yaml:"related"`
	StartDate   string    `yaml:"start_date,omitempty"`
	EndDate     string    `yaml:"end_date,omitempty"`
	CreatedAt   time.Time `yaml:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

// Encode serializes an item: metadata block between --- fences, then the
// body verbatim.
func Encode(item *models.Item) ([]byte, error) {
	fm := frontMatter{
		Type:        item.Type,
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Priority:    item.Priority,
		Status:      item.Status,
		Tags:        nonNil(item.Tags),
		Related:     nonNil(item.Related),
		StartDate:   item.StartDate,
		EndDate:     item.EndDate,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
	block, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(delim)*2 + len(block) + len(item.Content))
	buf.WriteString(delim)
	buf.Write(block)
	buf.WriteString(delim)
	buf.WriteString(item.Content)
	return buf.Bytes(), nil
}

// Decode parses a durable record back into an item. The body after the
// closing fence is taken verbatim as Content.
func Decode(data []byte) (*models.Item, error) {
	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, fmt.Errorf("%w: missing metadata block", ErrMalformed)
	}
	rest := data[len(delim):]

	var block, body []byte
	if idx := bytes.Index(rest, []byte("\n"+delim)); idx >= 0 {
		block = rest[:idx+1]
		body = rest[idx+1+len(delim):]
	} else if bytes.HasSuffix(rest, []byte("\n---")) {
		// Closing fence with no trailing newline: empty body.
		block = rest[:len(rest)-len("---")]
	} else {
		return nil, fmt.Errorf("%w: unterminated metadata block", ErrMalformed)
	}

	var fm frontMatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fm.Type == "" || fm.ID == "" {
		return nil, fmt.Errorf("%w: missing type or id", ErrMalformed)
	}

	return &models.Item{
		Type:        fm.Type,
		ID:          fm.ID,
		Title:       fm.Title,
		Description: fm.Description,
		Content:     string(body),
		Priority:    fm.Priority,
		Status:      fm.Status,
		Tags:        nonNil(fm.Tags),
		Related:     nonNil(fm.Related),
		StartDate:   fm.StartDate,
		EndDate:     fm.EndDate,
		CreatedAt:   fm.CreatedAt,
		UpdatedAt:   fm.UpdatedAt,
	}, nil
}

// DeriveDate extracts the calendar date encoded in a date- or
// timestamp-keyed id (the first 10 characters). It returns "" when the
// id does not embed a valid date. Applied at the read boundary only,
// when a stored start_date is absent.
func DeriveDate(id string) string {
	if len(id) < len(DateLayout) {
		return ""
	}
	prefix := id[:len(DateLayout)]
	if _, err := time.Parse(DateLayout, prefix); err != nil {
		return ""
	}
	return prefix
}

// ValidDate reports whether s is a strict YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil && len(s) == len(DateLayout)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
