package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/sleuth/pkg/models"
)

// Summary is one row of the conversation listing.
type Summary struct {
	ID         string                    `json:"id"`
	Request    string                    `json:"request"`
	Status     models.ConversationStatus `json:"status"`
	PlanType   models.PlanType           `json:"plan_type"`
	Confidence float64                   `json:"confidence"`
	Tasks      int                       `json:"tasks"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
	ArchivedAt time.Time                 `json:"archived_at"`
}

// ListOptions filters ListConversations.
type ListOptions struct {
	// Status keeps only conversations in this status when set.
	Status models.ConversationStatus
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// ArchiveConversation stores a conversation record, replacing any earlier
// copy with the same ID.
func (s *Store) ArchiveConversation(rec *models.ConversationRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("archive conversation: missing record")
	}

	plan, err := marshalNullable(rec.Plan)
	if err != nil {
		return fmt.Errorf("archive conversation %s: encode plan: %w", rec.ID, err)
	}
	outcome, err := marshalNullable(rec.Outcome)
	if err != nil {
		return fmt.Errorf("archive conversation %s: encode outcome: %w", rec.ID, err)
	}
	var confidence float64
	if rec.Outcome != nil {
		confidence = rec.Outcome.Confidence
	}

	err = s.transaction(func(tx *sql.Tx) error {
		if err := deleteConversation(tx, rec.ID); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO conversations (id, request, status, plan_type, plan, outcome, confidence, created_at, updated_at, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.Request, string(rec.Status), string(rec.PlanType), plan, outcome, confidence,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		for i, t := range rec.Tasks {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode task %s: %w", t.ID, err)
			}
			_, err = tx.Exec(`
				INSERT INTO tasks (conversation_id, id, position, title, type, role, status, failure_reason, blocked_reason, record)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, rec.ID, t.ID, i, t.Title, string(t.Type), string(t.Role), string(t.Status),
				string(t.FailureReason), t.BlockedReason, string(data))
			if err != nil {
				return fmt.Errorf("insert task %s: %w", t.ID, err)
			}
		}

		for _, c := range rec.Conflicts {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("encode conflict %s: %w", c.ID, err)
			}
			_, err = tx.Exec(`
				INSERT INTO conflicts (id, conversation_id, subject, type, resolution, escalate, winner_id, record, detected_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, c.ID, rec.ID, c.Subject, string(c.Type), string(c.Resolution), c.Escalate, c.WinnerID,
				string(data), formatTime(c.DetectedAt))
			if err != nil {
				return fmt.Errorf("insert conflict %s: %w", c.ID, err)
			}
		}

		for _, a := range rec.Adaptations {
			data, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("encode adaptation %s: %w", a.ID, err)
			}
			_, err = tx.Exec(`
				INSERT INTO adaptations (id, conversation_id, plan_id, trigger_name, status, impact, approval_required, record, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, a.ID, rec.ID, a.PlanID, a.Trigger, string(a.Status), a.Impact, a.ApprovalRequired,
				string(data), formatTime(a.CreatedAt))
			if err != nil {
				return fmt.Errorf("insert adaptation %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive conversation %s: %w", rec.ID, err)
	}
	s.debugLog("[archive.ArchiveConversation] stored %s (%d tasks, %d conflicts, %d adaptations)",
		rec.ID, len(rec.Tasks), len(rec.Conflicts), len(rec.Adaptations))
	return nil
}

// GetConversation reassembles an archived conversation. It returns an error
// wrapping ErrNotFound when the ID is unknown.
func (s *Store) GetConversation(id string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	row := s.conn.QueryRow(`
		SELECT id, request, status, plan_type, plan, outcome, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)

	var rec models.ConversationRecord
	var plan, outcome sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.Request, &rec.Status, &rec.PlanType, &plan, &outcome, &createdAt, &updatedAt)
	s.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)

	if plan.Valid {
		rec.Plan = &models.CoordinationPlan{}
		if err := json.Unmarshal([]byte(plan.String), rec.Plan); err != nil {
			return nil, fmt.Errorf("get conversation %s: decode plan: %w", id, err)
		}
	}
	if outcome.Valid {
		rec.Outcome = &models.Outcome{}
		if err := json.Unmarshal([]byte(outcome.String), rec.Outcome); err != nil {
			return nil, fmt.Errorf("get conversation %s: decode outcome: %w", id, err)
		}
	}

	if rec.Tasks, err = s.ListTasks(id); err != nil {
		return nil, err
	}
	if rec.Conflicts, err = s.ListConflicts(id); err != nil {
		return nil, err
	}
	if rec.Adaptations, err = s.ListAdaptations(id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListConversations returns archived conversations, most recently updated first.
func (s *Store) ListConversations(opts ListOptions) ([]Summary, error) {
	query := `
		SELECT c.id, c.request, c.status, c.plan_type, c.confidence, c.created_at, c.updated_at, c.archived_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.conversation_id = c.id)
		FROM conversations c`
	var args []any
	if opts.Status != "" {
		query += " WHERE c.status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY c.updated_at DESC, c.id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var createdAt, updatedAt, archivedAt string
		if err := rows.Scan(&sum.ID, &sum.Request, &sum.Status, &sum.PlanType, &sum.Confidence,
			&createdAt, &updatedAt, &archivedAt, &sum.Tasks); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.CreatedAt = parseTime(createdAt)
		sum.UpdatedAt = parseTime(updatedAt)
		sum.ArchivedAt = parseTime(archivedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListTasks returns the archived tasks of a conversation in planning order.
func (s *Store) ListTasks(conversationID string) ([]*models.Task, error) {
	var out []*models.Task
	err := s.scanRecords(`SELECT record FROM tasks WHERE conversation_id = ? ORDER BY position`, conversationID,
		func(data []byte) error {
			var t models.Task
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", conversationID, err)
	}
	return out, nil
}

// ListConflicts returns the archived conflicts of a conversation in detection order.
func (s *Store) ListConflicts(conversationID string) ([]*models.ConflictRecord, error) {
	var out []*models.ConflictRecord
	err := s.scanRecords(`SELECT record FROM conflicts WHERE conversation_id = ? ORDER BY detected_at, rowid`, conversationID,
		func(data []byte) error {
			var c models.ConflictRecord
			if err := json.Unmarshal(data, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list conflicts of %s: %w", conversationID, err)
	}
	return out, nil
}

// ListAdaptations returns the archived adaptations of a conversation in creation order.
func (s *Store) ListAdaptations(conversationID string) ([]*models.PlanAdaptation, error) {
	var out []*models.PlanAdaptation
	err := s.scanRecords(`SELECT record FROM adaptations WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID,
		func(data []byte) error {
			var a models.PlanAdaptation
			if err := json.Unmarshal(data, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list adaptations of %s: %w", conversationID, err)
	}
	return out, nil
}

// PruneBefore deletes conversations last updated before cutoff, along with
// their tasks, conflicts and adaptations. It returns the number deleted.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	var count int64
	err := s.transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM conversations WHERE updated_at < ?`, formatTime(cutoff))
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if err := deleteConversation(tx, id); err != nil {
				return err
			}
		}
		count = int64(len(ids))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune archive: %w", err)
	}
	if count > 0 {
		s.debugLog("[archive.PruneBefore] pruned %d conversation(s) before %s", count, formatTime(cutoff))
	}
	return count, nil
}

func (s *Store) scanRecords(query, id string, fn func([]byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(query, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return err
		}
		if err := fn([]byte(data)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// deleteConversation removes a conversation and its children. Children are
// deleted explicitly so the result does not depend on foreign key support.
func deleteConversation(tx *sql.Tx, id string) error {
	for _, table := range []string{"tasks", "conflicts", "adaptations"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE conversation_id = ?", id); err != nil {
			return fmt.Errorf("delete %s of %s: %w", table, id, err)
		}
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

func marshalNullable(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *models.CoordinationPlan:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *models.Outcome:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
