package mailer

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outbox is a store-and-forward queue for messages that failed SMTP
// delivery. SQLite with WAL mode for durability across process restarts.
type Outbox struct {
	db *sql.DB
	mu sync.Mutex

	maxMessages int
	maxAge      time.Duration
}

// QueuedMessage is one outbox row.
type QueuedMessage struct {
	ID       int64
	Message  Message
	QueuedAt time.Time
	Retries  int
}

const (
	defaultMaxMessages = 500
	defaultMaxAge      = 14 * 24 * time.Hour
)

// OpenOutbox opens (creating if needed) the outbox database at path.
func OpenOutbox(path string) (*Outbox, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload BLOB NOT NULL,
			queued_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			retries INTEGER DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_queued_at ON messages(queued_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Outbox{
		db:          db,
		maxMessages: defaultMaxMessages,
		maxAge:      defaultMaxAge,
	}, nil
}

// Close closes the underlying database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Enqueue stores a message for later delivery, then prunes.
func (o *Outbox) Enqueue(msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg.QueuedAt = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if _, err := o.db.Exec(`INSERT INTO messages (payload) VALUES (?)`, payload); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}

	return o.pruneLocked()
}

// Pending returns all queued messages, oldest first.
func (o *Outbox) Pending() ([]QueuedMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rows, err := o.db.Query(`
		SELECT id, payload, queued_at, retries FROM messages
		ORDER BY queued_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []QueuedMessage
	for rows.Next() {
		var (
			q        QueuedMessage
			payload  []byte
			queuedAt string
		)
		if err := rows.Scan(&q.ID, &payload, &queuedAt, &q.Retries); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		// SQLite stores CURRENT_TIMESTAMP as text
		if t, err := time.Parse("2006-01-02 15:04:05", queuedAt); err == nil {
			q.QueuedAt = t
		}
		if err := json.Unmarshal(payload, &q.Message); err != nil {
			// Unreadable rows are skipped, not fatal; Prune ages them out.
			continue
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Remove deletes a delivered message.
func (o *Outbox) Remove(id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, err := o.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// BumpRetry increments a message's retry counter.
func (o *Outbox) BumpRetry(id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, err := o.db.Exec(`UPDATE messages SET retries = retries + 1 WHERE id = ?`, id)
	return err
}

// Count returns the number of queued messages.
func (o *Outbox) Count() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var n int
	err := o.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// pruneLocked drops messages past the age limit, then the oldest rows
// past the size limit. Caller holds o.mu.
func (o *Outbox) pruneLocked() error {
	// Match SQLite's CURRENT_TIMESTAMP text format for the comparison
	cutoff := time.Now().UTC().Add(-o.maxAge).Format("2006-01-02 15:04:05")
	if _, err := o.db.Exec(`DELETE FROM messages WHERE queued_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune by age: %w", err)
	}

	_, err := o.db.Exec(`
		DELETE FROM messages WHERE id NOT IN (
			SELECT id FROM messages ORDER BY queued_at DESC, id DESC LIMIT ?
		)
	`, o.maxMessages)
	if err != nil {
		return fmt.Errorf("prune by size: %w", err)
	}
	return nil
}
