package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatrelay.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatrelay.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection serializes transactions
	// instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS message_servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES message_servers(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		dm_key TEXT UNIQUE,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channel_participants (
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (channel_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		raw_message TEXT NOT NULL DEFAULT '{}',
		source_id TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		in_reply_to_root_message_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		character TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS server_agents (
		server_id TEXT NOT NULL REFERENCES message_servers(id) ON DELETE CASCADE,
		agent_id TEXT NOT NULL,
		PRIMARY KEY (server_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		source_entity_id TEXT NOT NULL,
		target_entity_id TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		UNIQUE (source_entity_id, target_entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id);
	CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_server_agents_agent ON server_agents(agent_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// Seed the default server if not exists
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_servers (id, name, source_type, metadata, created_at, updated_at)
		VALUES (?, 'Default Server', 'chatrelay_default', '{}', ?, ?)
	`, ids.DefaultServerID.String(), now, now)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateServer creates a new message server.
func (s *SQLiteStore) CreateServer(ctx context.Context, server *models.Server) (*models.Server, error) {
	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	server.CreatedAt, server.UpdatedAt = now, now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_servers (id, name, source_type, source_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, server.ID.String(), server.Name, server.SourceType, server.SourceID, encodeJSON(server.Metadata), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, internal("create server", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrConflict
	}
	return server, nil
}

// GetServers lists all message servers.
func (s *SQLiteStore) GetServers(ctx context.Context) ([]models.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_type, source_id, metadata, created_at, updated_at
		FROM message_servers ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, internal("list servers", err)
	}
	defer rows.Close()

	servers := []models.Server{}
	for rows.Next() {
		server, err := scanSQLiteServer(rows)
		if err != nil {
			return nil, internal("scan server", err)
		}
		servers = append(servers, *server)
	}
	return servers, internal("list servers", rows.Err())
}

// GetServer retrieves a message server by ID.
func (s *SQLiteStore) GetServer(ctx context.Context, id uuid.UUID) (*models.Server, error) {
	server, err := scanSQLiteServer(s.db.QueryRowContext(ctx, `
		SELECT id, name, source_type, source_id, metadata, created_at, updated_at
		FROM message_servers WHERE id = ?
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get server", err)
	}
	return server, nil
}

// CreateChannel creates a channel and its participants in one transaction.
func (s *SQLiteStore) CreateChannel(ctx context.Context, channel *models.Channel, participantIDs []string) (*models.Channel, error) {
	normalizeChannel(channel)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := sqliteServerExists(ctx, tx, channel.MessageServerID); err != nil {
			return err
		}
		inserted, err := sqliteInsertChannel(ctx, tx, channel, "")
		if err != nil {
			return err
		}
		if !inserted {
			return ErrConflict
		}
		return sqliteAddParticipants(ctx, tx, channel.ID, participantIDs)
	})
	if err != nil {
		return nil, internal("create channel", err)
	}
	return channel, nil
}

// FindOrCreateChannel creates the channel unless a row with the same id
// already exists, in which case the existing row wins.
func (s *SQLiteStore) FindOrCreateChannel(ctx context.Context, channel *models.Channel, participantIDs []string) (*models.Channel, error) {
	normalizeChannel(channel)

	var result *models.Channel
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := sqliteServerExists(ctx, tx, channel.MessageServerID); err != nil {
			return err
		}
		inserted, err := sqliteInsertChannel(ctx, tx, channel, "")
		if err != nil {
			return err
		}
		result = channel
		if !inserted {
			result, err = scanSQLiteChannel(tx.QueryRowContext(ctx, sqliteChannelSelect+` WHERE id = ?`, channel.ID.String()))
			if err != nil {
				return err
			}
		}
		return sqliteAddParticipants(ctx, tx, result.ID, participantIDs)
	})
	if err != nil {
		return nil, internal("find or create channel", err)
	}
	return result, nil
}

// GetChannelDetails retrieves a channel by ID.
func (s *SQLiteStore) GetChannelDetails(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	channel, err := scanSQLiteChannel(s.db.QueryRowContext(ctx, sqliteChannelSelect+` WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get channel", err)
	}
	return channel, nil
}

// GetChannelsForServer lists the channels owned by a server.
func (s *SQLiteStore) GetChannelsForServer(ctx context.Context, serverID uuid.UUID) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, sqliteChannelSelect+` WHERE server_id = ? ORDER BY created_at ASC`, serverID.String())
	if err != nil {
		return nil, internal("list channels", err)
	}
	defer rows.Close()

	channels := []models.Channel{}
	for rows.Next() {
		channel, err := scanSQLiteChannel(rows)
		if err != nil {
			return nil, internal("scan channel", err)
		}
		channels = append(channels, *channel)
	}
	return channels, internal("list channels", rows.Err())
}

// DeleteChannel removes a channel with its messages and participants.
// Deleting a missing channel is a no-op.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM messages WHERE channel_id = ?`,
			`DELETE FROM channel_participants WHERE channel_id = ?`,
			`DELETE FROM channels WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id.String()); err != nil {
				return err
			}
		}
		return nil
	})
	return internal("delete channel", err)
}

// GetChannelParticipants lists the user ids participating in a channel.
func (s *SQLiteStore) GetChannelParticipants(ctx context.Context, channelID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM channel_participants WHERE channel_id = ? ORDER BY rowid ASC
	`, channelID.String())
	if err != nil {
		return nil, internal("list participants", err)
	}
	defer rows.Close()

	participants := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, internal("scan participant", err)
		}
		participants = append(participants, userID)
	}
	return participants, internal("list participants", rows.Err())
}

// AddParticipantsToChannel adds users to a channel, ignoring existing ones.
func (s *SQLiteStore) AddParticipantsToChannel(ctx context.Context, channelID uuid.UUID, userIDs []string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, channelID.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChannelNotFound
		}
		if err != nil {
			return err
		}
		return sqliteAddParticipants(ctx, tx, channelID, userIDs)
	})
	return internal("add participants", err)
}

// FindOrCreateCentralDmChannel returns the DM channel for an unordered user
// pair, creating it on first use. Concurrent callers share one row.
func (s *SQLiteStore) FindOrCreateCentralDmChannel(ctx context.Context, userA, userB string, serverID uuid.UUID) (*models.Channel, error) {
	if userA == "" || userB == "" {
		return nil, errMissingDMUser
	}
	key := DMKey(userA, userB, serverID)

	var result *models.Channel
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanSQLiteChannel(tx.QueryRowContext(ctx, sqliteChannelSelect+` WHERE dm_key = ?`, key))
		if err == nil {
			result = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if err := sqliteServerExists(ctx, tx, serverID); err != nil {
			return err
		}
		channel := newDMChannel(userA, userB, serverID)
		inserted, err := sqliteInsertChannel(ctx, tx, channel, key)
		if err != nil {
			return err
		}
		if !inserted {
			channel, err = scanSQLiteChannel(tx.QueryRowContext(ctx, sqliteChannelSelect+` WHERE dm_key = ?`, key))
			if err != nil {
				return err
			}
		}
		result = channel
		return sqliteAddParticipants(ctx, tx, channel.ID, []string{userA, userB})
	})
	if err != nil {
		return nil, internal("find or create dm channel", err)
	}
	return result, nil
}

// CreateMessage persists a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	normalizeMessage(msg)

	var replyTo *string
	if msg.InReplyToRootMessageID != nil {
		str := msg.InReplyToRootMessageID.String()
		replyTo = &str
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, msg.ChannelID.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChannelNotFound
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, channel_id, author_id, content, raw_message, source_id, source_type, in_reply_to_root_message_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, msg.ID.String(), msg.ChannelID.String(), msg.AuthorID, msg.Content, encodeJSON(msg.RawMessage),
			msg.SourceID, msg.SourceType, replyTo, encodeJSON(msg.Metadata), msg.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		_, err = tx.ExecContext(ctx, `UPDATE channels SET updated_at = ? WHERE id = ?`, msg.CreatedAt.UnixMilli(), msg.ChannelID.String())
		return err
	})
	if err != nil {
		return nil, internal("create message", err)
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, sqliteMessageSelect+` WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get message", err)
	}
	return msg, nil
}

// GetMessagesForChannel returns up to limit messages, newest first. When
// before is set only messages strictly older than it are returned.
func (s *SQLiteStore) GetMessagesForChannel(ctx context.Context, channelID uuid.UUID, limit int, before *time.Time) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := sqliteMessageSelect + ` WHERE channel_id = ?`
	args := []any{channelID.String()}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UnixMilli())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, internal("scan message", err)
		}
		messages = append(messages, *msg)
	}
	return messages, internal("list messages", rows.Err())
}

// DeleteMessage removes a message. Deleting a missing message is a no-op.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id.String())
	return internal("delete message", err)
}

// ClearChannelMessages removes every message of a channel.
func (s *SQLiteStore) ClearChannelMessages(ctx context.Context, channelID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_id = ?`, channelID.String())
	return internal("clear messages", err)
}

// UpsertAgent creates or replaces an agent record.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, character, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, character = excluded.character, updated_at = excluded.updated_at
	`, agent.ID.String(), agent.Name, encodeJSON(agent.Character), agent.CreatedAt.UnixMilli(), now.UnixMilli())
	return internal("upsert agent", err)
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent := &models.Agent{ID: id}
	var character string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT name, character, created_at, updated_at FROM agents WHERE id = ?
	`, id.String()).Scan(&agent.Name, &character, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get agent", err)
	}
	agent.Character = decodeCharacter(character)
	agent.CreatedAt = time.UnixMilli(createdAt).UTC()
	agent.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return agent, nil
}

// AddAgentToServer associates an agent with a server. Repeated calls are
// no-ops.
func (s *SQLiteStore) AddAgentToServer(ctx context.Context, serverID, agentID uuid.UUID) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := sqliteServerExists(ctx, tx, serverID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO server_agents (server_id, agent_id) VALUES (?, ?)
		`, serverID.String(), agentID.String())
		return err
	})
	return internal("add agent to server", err)
}

// RemoveAgentFromServer removes an agent association.
func (s *SQLiteStore) RemoveAgentFromServer(ctx context.Context, serverID, agentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM server_agents WHERE server_id = ? AND agent_id = ?
	`, serverID.String(), agentID.String())
	return internal("remove agent from server", err)
}

// GetAgentsForServer lists agents associated with a server.
func (s *SQLiteStore) GetAgentsForServer(ctx context.Context, serverID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryUUIDs(ctx, `SELECT agent_id FROM server_agents WHERE server_id = ? ORDER BY rowid ASC`, serverID.String())
}

// GetServersForAgent lists servers an agent is associated with.
func (s *SQLiteStore) GetServersForAgent(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryUUIDs(ctx, `SELECT server_id FROM server_agents WHERE agent_id = ? ORDER BY rowid ASC`, agentID.String())
}

// CreateRelationship records a directed link between two entities.
func (s *SQLiteStore) CreateRelationship(ctx context.Context, rel *models.Relationship) (*models.Relationship, error) {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.Tags == nil {
		rel.Tags = []string{}
	}
	rel.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, source_entity_id, target_entity_id, tags, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, rel.ID.String(), rel.SourceEntityID, rel.TargetEntityID, encodeJSON(rel.Tags), encodeJSON(rel.Metadata), rel.CreatedAt.UnixMilli())
	if err != nil {
		return nil, internal("create relationship", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrConflict
	}
	return rel, nil
}

// GetRelationships lists relationships where the entity is either end.
func (s *SQLiteStore) GetRelationships(ctx context.Context, entityID string) ([]models.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_entity_id, target_entity_id, tags, metadata, created_at
		FROM relationships
		WHERE source_entity_id = ? OR target_entity_id = ?
		ORDER BY created_at ASC
	`, entityID, entityID)
	if err != nil {
		return nil, internal("list relationships", err)
	}
	defer rows.Close()

	rels := []models.Relationship{}
	for rows.Next() {
		var rel models.Relationship
		var idStr, tags, metadata string
		var createdAt int64
		if err := rows.Scan(&idStr, &rel.SourceEntityID, &rel.TargetEntityID, &tags, &metadata, &createdAt); err != nil {
			return nil, internal("scan relationship", err)
		}
		rel.ID = uuid.MustParse(idStr)
		rel.Tags = decodeStrings(tags)
		rel.Metadata = decodeMap(metadata)
		rel.CreatedAt = time.UnixMilli(createdAt).UTC()
		rels = append(rels, rel)
	}
	return rels, internal("list relationships", rows.Err())
}

func (s *SQLiteStore) queryUUIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal("list ids", err)
	}
	defer rows.Close()

	out := []uuid.UUID{}
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, internal("scan id", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, internal("parse id", err)
		}
		out = append(out, id)
	}
	return out, internal("list ids", rows.Err())
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

const sqliteChannelSelect = `
	SELECT id, server_id, name, type, source_type, source_id, topic, metadata, created_at, updated_at
	FROM channels`

const sqliteMessageSelect = `
	SELECT id, channel_id, author_id, content, raw_message, source_id, source_type, in_reply_to_root_message_id, metadata, created_at
	FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteServerExists(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM message_servers WHERE id = ?`, id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrServerNotFound
	}
	return err
}

func sqliteInsertChannel(ctx context.Context, tx *sql.Tx, ch *models.Channel, dmKey string) (bool, error) {
	var key *string
	if dmKey != "" {
		key = &dmKey
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO channels (id, server_id, name, type, source_type, source_id, topic, dm_key, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, ch.ID.String(), ch.MessageServerID.String(), ch.Name, string(ch.Type), ch.SourceType, ch.SourceID, ch.Topic,
		key, encodeJSON(ch.Metadata), ch.CreatedAt.UnixMilli(), ch.UpdatedAt.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func sqliteAddParticipants(ctx context.Context, tx *sql.Tx, channelID uuid.UUID, userIDs []string) error {
	for _, userID := range dedupeIDs(userIDs) {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO channel_participants (channel_id, user_id) VALUES (?, ?)
		`, channelID.String(), userID); err != nil {
			return err
		}
	}
	return nil
}

func scanSQLiteServer(row rowScanner) (*models.Server, error) {
	server := &models.Server{}
	var idStr, metadata string
	var createdAt, updatedAt int64
	if err := row.Scan(&idStr, &server.Name, &server.SourceType, &server.SourceID, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	server.ID = uuid.MustParse(idStr)
	server.Metadata = decodeMap(metadata)
	server.CreatedAt = time.UnixMilli(createdAt).UTC()
	server.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return server, nil
}

func scanSQLiteChannel(row rowScanner) (*models.Channel, error) {
	ch := &models.Channel{}
	var idStr, serverStr, chType, metadata string
	var createdAt, updatedAt int64
	if err := row.Scan(&idStr, &serverStr, &ch.Name, &chType, &ch.SourceType, &ch.SourceID, &ch.Topic, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ch.ID = uuid.MustParse(idStr)
	ch.MessageServerID = uuid.MustParse(serverStr)
	ch.Type = models.ChannelType(chType)
	ch.Metadata = decodeMap(metadata)
	ch.CreatedAt = time.UnixMilli(createdAt).UTC()
	ch.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return ch, nil
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var idStr, channelStr, raw, metadata string
	var replyTo *string
	var createdAt int64
	if err := row.Scan(&idStr, &channelStr, &msg.AuthorID, &msg.Content, &raw, &msg.SourceID, &msg.SourceType, &replyTo, &metadata, &createdAt); err != nil {
		return nil, err
	}
	msg.ID = uuid.MustParse(idStr)
	msg.ChannelID = uuid.MustParse(channelStr)
	msg.RawMessage = decodeMap(raw)
	msg.Metadata = decodeMap(metadata)
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	if replyTo != nil && strings.TrimSpace(*replyTo) != "" {
		if id, err := uuid.Parse(*replyTo); err == nil {
			msg.InReplyToRootMessageID = &id
		}
	}
	return msg, nil
}
