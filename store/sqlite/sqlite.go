package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/store"
)

// SQLiteSessionStore is the single-node archive used in development and by
// tests. Events are kept as JSON next to their indexed keys.
type SQLiteSessionStore struct {
	db *sql.DB
}

func NewSQLiteSessionStore(ctx context.Context, path string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One writer avoids SQLITE_BUSY between the batchers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteSessionStore{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSessionStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteSessionStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_epochs (
		room_id TEXT NOT NULL,
		epoch TEXT NOT NULL,
		opened INTEGER NOT NULL,
		closed INTEGER NOT NULL DEFAULT 0,
		last_sequence INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (room_id, epoch)
	);

	CREATE TABLE IF NOT EXISTS room_events (
		room_id TEXT NOT NULL,
		epoch TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		type TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (room_id, epoch, sequence)
	);

	CREATE TABLE IF NOT EXISTS room_stats (
		room_id TEXT PRIMARY KEY,
		draws INTEGER NOT NULL DEFAULT 0,
		clears INTEGER NOT NULL DEFAULT 0,
		playback_commands INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_room_epochs_opened ON room_epochs(room_id, opened);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteSessionStore) OpenRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_epochs (room_id, epoch, opened, closed, last_sequence) VALUES (?, ?, ?, ?, ?)",
		epoch.RoomId, epoch.Epoch, epoch.Opened, epoch.Closed, epoch.LastSequence,
	)
	return err
}

func (s *SQLiteSessionStore) CloseRoomEpoch(ctx context.Context, epoch models.RoomEpoch) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE room_epochs SET closed = ?, last_sequence = ? WHERE room_id = ? AND epoch = ?",
		epoch.Closed, epoch.LastSequence, epoch.RoomId, epoch.Epoch,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrItemNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) GetRoomEpochs(ctx context.Context, roomId string) ([]models.RoomEpoch, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id, epoch, opened, closed, last_sequence FROM room_epochs WHERE room_id = ? ORDER BY opened, epoch",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	epochs := []models.RoomEpoch{}
	for rows.Next() {
		var e models.RoomEpoch
		if err := rows.Scan(&e.RoomId, &e.Epoch, &e.Opened, &e.Closed, &e.LastSequence); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// WriteEventBatch writes the batch in one transaction, so it either lands
// whole or is returned whole as unprocessed.
func (s *SQLiteSessionStore) WriteEventBatch(ctx context.Context, events []models.SessionEvent) ([]models.SessionEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return events, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO room_events (room_id, epoch, sequence, type, participant_id, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return events, err
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return events, fmt.Errorf("marshal error: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ev.RoomId, ev.Epoch, ev.Sequence, string(ev.Type), ev.ParticipantId, ev.Timestamp, payload); err != nil {
			return events, err
		}
	}

	if err := tx.Commit(); err != nil {
		return events, err
	}
	return nil, nil
}

func (s *SQLiteSessionStore) GetRoomEvents(ctx context.Context, roomId string, epoch string, after uint64, limit int) ([]models.SessionEvent, error) {
	query := "SELECT payload FROM room_events WHERE room_id = ? AND epoch = ? AND sequence > ? ORDER BY sequence"
	args := []any{roomId, epoch, after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.SessionEvent{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev models.SessionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteSessionStore) DeleteRoomEpoch(ctx context.Context, roomId string, epoch string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM room_events WHERE room_id = ? AND epoch = ?", roomId, epoch)
	if err != nil {
		return err
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM room_epochs WHERE room_id = ? AND epoch = ?", roomId, epoch); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Info().Str("module", "store.sqlite").Str("roomId", roomId).Str("epoch", epoch).
		Int64("events", deleted).Msg("room epoch deleted")
	return nil
}

func (s *SQLiteSessionStore) IncrementRoomStats(ctx context.Context, delta models.RoomStats) error {
	if delta.IsZero() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_stats (room_id, draws, clears, playback_commands) VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			draws = draws + excluded.draws,
			clears = clears + excluded.clears,
			playback_commands = playback_commands + excluded.playback_commands`,
		delta.RoomId, delta.Draws, delta.Clears, delta.PlaybackCommands,
	)
	return err
}

func (s *SQLiteSessionStore) GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error) {
	stats := models.RoomStats{RoomId: roomId}
	err := s.db.QueryRowContext(ctx,
		"SELECT draws, clears, playback_commands FROM room_stats WHERE room_id = ?", roomId,
	).Scan(&stats.Draws, &stats.Clears, &stats.PlaybackCommands)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return models.RoomStats{}, err
	}
	return stats, nil
}
