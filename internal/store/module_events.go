// ABOUTME: Module load and unload event storage.
// ABOUTME: Keeps a history of which module files were opened and why loads failed.

package store

import "time"

// ModuleEvent represents a module load or unload
type ModuleEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Action    string    `json:"action"`
	Message   string    `json:"message,omitempty"`
}

// RecordModuleEvent lets the store serve as the module loader's recorder.
func (s *Store) RecordModuleEvent(path, action, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO module_events (path, action, message) VALUES (?, ?, ?)
	`, path, action, message)
	return err
}

// GetModuleEvents returns the newest events first, optionally for a single path
func (s *Store) GetModuleEvents(path string, limit int) ([]*ModuleEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, timestamp, path, action, message FROM module_events`
	args := []any{}
	if path != "" {
		query += " WHERE path = ?"
		args = append(args, path)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*ModuleEvent{}
	for rows.Next() {
		e := &ModuleEvent{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Path, &e.Action, &e.Message); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
