package contextstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/wisty/jimi/internal/models"
)

// record is the on-disk shape of one Message line, matching spec §6:
// "Records include role, content, tool_calls, tool_call_id, name."
type record struct {
	Role       models.Role      `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// NDJSONBackend persists one Message per line to a per-session history
// file, append-only. Replay reads the file line by line.
type NDJSONBackend struct {
	path string
}

// NewNDJSONBackend returns a backend for the history file at path. The
// file is not opened here: Append creates it if absent, and Load treats
// a missing file as an empty history.
func NewNDJSONBackend(path string) *NDJSONBackend {
	return &NDJSONBackend{path: path}
}

func (b *NDJSONBackend) Append(messages []models.Message) error {
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ndjson: opening %s: %w", b.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, m := range messages {
		rec, err := toRecord(m)
		if err != nil {
			return err
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("ndjson: marshaling record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("ndjson: writing record: %w", err)
		}
	}
	return w.Flush()
}

func (b *NDJSONBackend) Load() ([]models.Message, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ndjson: opening %s: %w", b.path, err)
	}
	defer f.Close()

	var out []models.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("ndjson: parsing record: %w", err)
		}
		m, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ndjson: scanning %s: %w", b.path, err)
	}
	return out, nil
}

func toRecord(m models.Message) (record, error) {
	var content json.RawMessage
	var err error
	if m.Content.IsStructured() {
		content, err = json.Marshal(m.Content.Parts)
	} else {
		content, err = json.Marshal(m.Content.Text)
	}
	if err != nil {
		return record{}, fmt.Errorf("ndjson: marshaling content: %w", err)
	}
	return record{
		Role:       m.Role,
		Content:    content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}, nil
}

func fromRecord(rec record) (models.Message, error) {
	m := models.Message{
		Role:       rec.Role,
		ToolCalls:  rec.ToolCalls,
		ToolCallID: rec.ToolCallID,
		Name:       rec.Name,
	}

	var asString string
	if err := json.Unmarshal(rec.Content, &asString); err == nil {
		m.Content = models.NewTextContent(asString)
		return m, nil
	}
	var asParts []models.ContentPart
	if err := json.Unmarshal(rec.Content, &asParts); err != nil {
		return models.Message{}, fmt.Errorf("ndjson: content is neither string nor parts: %w", err)
	}
	m.Content = models.NewPartsContent(asParts...)
	return m, nil
}
