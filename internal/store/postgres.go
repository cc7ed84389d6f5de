package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatrelay/internal/ids"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

const pgForeignKeyViolation = "23503"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS message_servers (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS channels (
		id UUID PRIMARY KEY,
		server_id UUID NOT NULL REFERENCES message_servers(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		topic TEXT NOT NULL DEFAULT '',
		dm_key TEXT UNIQUE,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channel_participants (
		channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		added_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		PRIMARY KEY (channel_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		raw_message JSONB NOT NULL DEFAULT '{}',
		source_id TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		in_reply_to_root_message_id UUID,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		character JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS server_agents (
		server_id UUID NOT NULL REFERENCES message_servers(id) ON DELETE CASCADE,
		agent_id UUID NOT NULL,
		added_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		PRIMARY KEY (server_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS relationships (
		id UUID PRIMARY KEY,
		source_entity_id TEXT NOT NULL,
		target_entity_id TEXT NOT NULL,
		tags JSONB NOT NULL DEFAULT '[]',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (source_entity_id, target_entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id);
	CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_server_agents_agent ON server_agents(agent_id);
	`)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO message_servers (id, name, source_type)
		VALUES ($1, 'Default Server', 'chatrelay_default')
		ON CONFLICT (id) DO NOTHING
	`, ids.DefaultServerID)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateServer creates a new message server.
func (s *PostgresStore) CreateServer(ctx context.Context, server *models.Server) (*models.Server, error) {
	if server.ID == uuid.Nil {
		server.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	server.CreatedAt, server.UpdatedAt = now, now

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO message_servers (id, name, source_type, source_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		ON CONFLICT DO NOTHING
	`, server.ID, server.Name, server.SourceType, server.SourceID, encodeJSON(server.Metadata), now, now)
	if err != nil {
		return nil, internal("create server", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}
	return server, nil
}

// GetServers lists all message servers.
func (s *PostgresStore) GetServers(ctx context.Context) ([]models.Server, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, source_type, source_id, metadata, created_at, updated_at
		FROM message_servers ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, internal("list servers", err)
	}
	defer rows.Close()

	servers := []models.Server{}
	for rows.Next() {
		server, err := scanPGServer(rows)
		if err != nil {
			return nil, internal("scan server", err)
		}
		servers = append(servers, *server)
	}
	return servers, internal("list servers", rows.Err())
}

// GetServer retrieves a message server by ID.
func (s *PostgresStore) GetServer(ctx context.Context, id uuid.UUID) (*models.Server, error) {
	server, err := scanPGServer(s.pool.QueryRow(ctx, `
		SELECT id, name, source_type, source_id, metadata, created_at, updated_at
		FROM message_servers WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get server", err)
	}
	return server, nil
}

// CreateChannel creates a channel and its participants in one transaction.
func (s *PostgresStore) CreateChannel(ctx context.Context, channel *models.Channel, participantIDs []string) (*models.Channel, error) {
	normalizeChannel(channel)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgServerExists(ctx, tx, channel.MessageServerID); err != nil {
			return err
		}
		inserted, err := pgInsertChannel(ctx, tx, channel, "")
		if err != nil {
			return err
		}
		if !inserted {
			return ErrConflict
		}
		return pgAddParticipants(ctx, tx, channel.ID, participantIDs)
	})
	if err != nil {
		return nil, internal("create channel", pgTranslate(err))
	}
	return channel, nil
}

// FindOrCreateChannel creates the channel unless a row with the same id
// already exists, in which case the existing row wins.
func (s *PostgresStore) FindOrCreateChannel(ctx context.Context, channel *models.Channel, participantIDs []string) (*models.Channel, error) {
	normalizeChannel(channel)

	var result *models.Channel
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgServerExists(ctx, tx, channel.MessageServerID); err != nil {
			return err
		}
		inserted, err := pgInsertChannel(ctx, tx, channel, "")
		if err != nil {
			return err
		}
		result = channel
		if !inserted {
			// Lost the race: a concurrent insert committed first.
			result, err = scanPGChannel(tx.QueryRow(ctx, pgChannelSelect+` WHERE id = $1`, channel.ID))
			if err != nil {
				return err
			}
		}
		return pgAddParticipants(ctx, tx, result.ID, participantIDs)
	})
	if err != nil {
		return nil, internal("find or create channel", pgTranslate(err))
	}
	return result, nil
}

// GetChannelDetails retrieves a channel by ID.
func (s *PostgresStore) GetChannelDetails(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	channel, err := scanPGChannel(s.pool.QueryRow(ctx, pgChannelSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get channel", err)
	}
	return channel, nil
}

// GetChannelsForServer lists the channels owned by a server.
func (s *PostgresStore) GetChannelsForServer(ctx context.Context, serverID uuid.UUID) ([]models.Channel, error) {
	rows, err := s.pool.Query(ctx, pgChannelSelect+` WHERE server_id = $1 ORDER BY created_at ASC`, serverID)
	if err != nil {
		return nil, internal("list channels", err)
	}
	defer rows.Close()

	channels := []models.Channel{}
	for rows.Next() {
		channel, err := scanPGChannel(rows)
		if err != nil {
			return nil, internal("scan channel", err)
		}
		channels = append(channels, *channel)
	}
	return channels, internal("list channels", rows.Err())
}

// DeleteChannel removes a channel with its messages and participants.
// Deleting a missing channel is a no-op.
func (s *PostgresStore) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM messages WHERE channel_id = $1`,
			`DELETE FROM channel_participants WHERE channel_id = $1`,
			`DELETE FROM channels WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	return internal("delete channel", err)
}

// GetChannelParticipants lists the user ids participating in a channel.
func (s *PostgresStore) GetChannelParticipants(ctx context.Context, channelID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM channel_participants WHERE channel_id = $1 ORDER BY added_at ASC, user_id ASC
	`, channelID)
	if err != nil {
		return nil, internal("list participants", err)
	}
	participants, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, internal("list participants", err)
	}
	if participants == nil {
		participants = []string{}
	}
	return participants, nil
}

// AddParticipantsToChannel adds users to a channel, ignoring existing ones.
func (s *PostgresStore) AddParticipantsToChannel(ctx context.Context, channelID uuid.UUID, userIDs []string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists int
		err := tx.QueryRow(ctx, `SELECT 1 FROM channels WHERE id = $1`, channelID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChannelNotFound
		}
		if err != nil {
			return err
		}
		return pgAddParticipants(ctx, tx, channelID, userIDs)
	})
	return internal("add participants", pgTranslate(err))
}

// FindOrCreateCentralDmChannel returns the DM channel for an unordered user
// pair, creating it on first use. Concurrent callers share one row: the
// unique dm_key makes the losing insert a no-op and it re-reads the winner.
func (s *PostgresStore) FindOrCreateCentralDmChannel(ctx context.Context, userA, userB string, serverID uuid.UUID) (*models.Channel, error) {
	if userA == "" || userB == "" {
		return nil, errMissingDMUser
	}
	key := DMKey(userA, userB, serverID)

	existing, err := scanPGChannel(s.pool.QueryRow(ctx, pgChannelSelect+` WHERE dm_key = $1`, key))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, internal("find dm channel", err)
	}

	var result *models.Channel
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgServerExists(ctx, tx, serverID); err != nil {
			return err
		}
		channel := newDMChannel(userA, userB, serverID)
		inserted, err := pgInsertChannel(ctx, tx, channel, key)
		if err != nil {
			return err
		}
		if !inserted {
			channel, err = scanPGChannel(tx.QueryRow(ctx, pgChannelSelect+` WHERE dm_key = $1`, key))
			if err != nil {
				return err
			}
		}
		result = channel
		return pgAddParticipants(ctx, tx, channel.ID, []string{userA, userB})
	})
	if err != nil {
		return nil, internal("find or create dm channel", pgTranslate(err))
	}
	return result, nil
}

// CreateMessage persists a new message.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	normalizeMessage(msg)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO messages (id, channel_id, author_id, content, raw_message, source_id, source_type, in_reply_to_root_message_id, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9::jsonb, $10)
			ON CONFLICT (id) DO NOTHING
		`, msg.ID, msg.ChannelID, msg.AuthorID, msg.Content, encodeJSON(msg.RawMessage),
			msg.SourceID, msg.SourceType, msg.InReplyToRootMessageID, encodeJSON(msg.Metadata), msg.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		_, err = tx.Exec(ctx, `UPDATE channels SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ChannelID)
		return err
	})
	if err != nil {
		return nil, internal("create message", pgTranslate(err))
	}
	return msg, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	msg, err := scanPGMessage(s.pool.QueryRow(ctx, pgMessageSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get message", err)
	}
	return msg, nil
}

// GetMessagesForChannel returns up to limit messages, newest first. When
// before is set only messages strictly older than it are returned.
func (s *PostgresStore) GetMessagesForChannel(ctx context.Context, channelID uuid.UUID, limit int, before *time.Time) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if before != nil {
		rows, err = s.pool.Query(ctx, pgMessageSelect+`
			WHERE channel_id = $1 AND created_at < $2
			ORDER BY created_at DESC, id DESC LIMIT $3
		`, channelID, before.UTC().Truncate(time.Millisecond), limit)
	} else {
		rows, err = s.pool.Query(ctx, pgMessageSelect+`
			WHERE channel_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		`, channelID, limit)
	}
	if err != nil {
		return nil, internal("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanPGMessage(rows)
		if err != nil {
			return nil, internal("scan message", err)
		}
		messages = append(messages, *msg)
	}
	return messages, internal("list messages", rows.Err())
}

// DeleteMessage removes a message. Deleting a missing message is a no-op.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return internal("delete message", err)
}

// ClearChannelMessages removes every message of a channel.
func (s *PostgresStore) ClearChannelMessages(ctx context.Context, channelID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE channel_id = $1`, channelID)
	return internal("clear messages", err)
}

// UpsertAgent creates or replaces an agent record.
func (s *PostgresStore) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, character, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, character = EXCLUDED.character, updated_at = EXCLUDED.updated_at
	`, agent.ID, agent.Name, encodeJSON(agent.Character), agent.CreatedAt, now)
	return internal("upsert agent", err)
}

// GetAgent retrieves an agent by ID.
func (s *PostgresStore) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent := &models.Agent{}
	var character []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, character, created_at, updated_at FROM agents WHERE id = $1
	`, id).Scan(&agent.ID, &agent.Name, &character, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, internal("get agent", err)
	}
	agent.Character = decodeCharacter(string(character))
	return agent, nil
}

// AddAgentToServer associates an agent with a server. Repeated calls are
// no-ops.
func (s *PostgresStore) AddAgentToServer(ctx context.Context, serverID, agentID uuid.UUID) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgServerExists(ctx, tx, serverID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO server_agents (server_id, agent_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, serverID, agentID)
		return err
	})
	return internal("add agent to server", pgTranslate(err))
}

// RemoveAgentFromServer removes an agent association.
func (s *PostgresStore) RemoveAgentFromServer(ctx context.Context, serverID, agentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM server_agents WHERE server_id = $1 AND agent_id = $2
	`, serverID, agentID)
	return internal("remove agent from server", err)
}

// GetAgentsForServer lists agents associated with a server.
func (s *PostgresStore) GetAgentsForServer(ctx context.Context, serverID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryUUIDs(ctx, `SELECT agent_id FROM server_agents WHERE server_id = $1 ORDER BY added_at ASC`, serverID)
}

// GetServersForAgent lists servers an agent is associated with.
func (s *PostgresStore) GetServersForAgent(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryUUIDs(ctx, `SELECT server_id FROM server_agents WHERE agent_id = $1 ORDER BY added_at ASC`, agentID)
}

// CreateRelationship records a directed link between two entities.
func (s *PostgresStore) CreateRelationship(ctx context.Context, rel *models.Relationship) (*models.Relationship, error) {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.Tags == nil {
		rel.Tags = []string{}
	}
	rel.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO relationships (id, source_entity_id, target_entity_id, tags, metadata, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
		ON CONFLICT DO NOTHING
	`, rel.ID, rel.SourceEntityID, rel.TargetEntityID, encodeJSON(rel.Tags), encodeJSON(rel.Metadata), rel.CreatedAt)
	if err != nil {
		return nil, internal("create relationship", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}
	return rel, nil
}

// GetRelationships lists relationships where the entity is either end.
func (s *PostgresStore) GetRelationships(ctx context.Context, entityID string) ([]models.Relationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_entity_id, target_entity_id, tags, metadata, created_at
		FROM relationships
		WHERE source_entity_id = $1 OR target_entity_id = $1
		ORDER BY created_at ASC
	`, entityID)
	if err != nil {
		return nil, internal("list relationships", err)
	}
	defer rows.Close()

	rels := []models.Relationship{}
	for rows.Next() {
		var rel models.Relationship
		var tags, metadata []byte
		if err := rows.Scan(&rel.ID, &rel.SourceEntityID, &rel.TargetEntityID, &tags, &metadata, &rel.CreatedAt); err != nil {
			return nil, internal("scan relationship", err)
		}
		rel.Tags = decodeStrings(string(tags))
		rel.Metadata = decodeMap(string(metadata))
		rels = append(rels, rel)
	}
	return rels, internal("list relationships", rows.Err())
}

func (s *PostgresStore) queryUUIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, internal("list ids", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, internal("list ids", err)
	}
	if out == nil {
		out = []uuid.UUID{}
	}
	return out, nil
}

const pgChannelSelect = `
	SELECT id, server_id, name, type, source_type, source_id, topic, metadata, created_at, updated_at
	FROM channels`

const pgMessageSelect = `
	SELECT id, channel_id, author_id, content, raw_message, source_id, source_type, in_reply_to_root_message_id, metadata, created_at
	FROM messages`

// pgTranslate maps constraint violations that slipped past the explicit
// existence checks onto store errors.
func pgTranslate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		switch pgErr.ConstraintName {
		case "channels_server_id_fkey", "server_agents_server_id_fkey":
			return ErrServerNotFound
		default:
			return ErrChannelNotFound
		}
	}
	return err
}

func pgServerExists(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists int
	err := tx.QueryRow(ctx, `SELECT 1 FROM message_servers WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrServerNotFound
	}
	return err
}

func pgInsertChannel(ctx context.Context, tx pgx.Tx, ch *models.Channel, dmKey string) (bool, error) {
	var key *string
	if dmKey != "" {
		key = &dmKey
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO channels (id, server_id, name, type, source_type, source_id, topic, dm_key, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)
		ON CONFLICT DO NOTHING
	`, ch.ID, ch.MessageServerID, ch.Name, string(ch.Type), ch.SourceType, ch.SourceID, ch.Topic,
		key, encodeJSON(ch.Metadata), ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func pgAddParticipants(ctx context.Context, tx pgx.Tx, channelID uuid.UUID, userIDs []string) error {
	for _, userID := range dedupeIDs(userIDs) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO channel_participants (channel_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, channelID, userID); err != nil {
			return err
		}
	}
	return nil
}

func scanPGServer(row pgx.Row) (*models.Server, error) {
	server := &models.Server{}
	var metadata []byte
	if err := row.Scan(&server.ID, &server.Name, &server.SourceType, &server.SourceID, &metadata, &server.CreatedAt, &server.UpdatedAt); err != nil {
		return nil, err
	}
	server.Metadata = decodeMap(string(metadata))
	return server, nil
}

func scanPGChannel(row pgx.Row) (*models.Channel, error) {
	ch := &models.Channel{}
	var chType string
	var metadata []byte
	if err := row.Scan(&ch.ID, &ch.MessageServerID, &ch.Name, &chType, &ch.SourceType, &ch.SourceID, &ch.Topic, &metadata, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.Type = models.ChannelType(chType)
	ch.Metadata = decodeMap(string(metadata))
	return ch, nil
}

func scanPGMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var raw, metadata []byte
	if err := row.Scan(&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.Content, &raw, &msg.SourceID, &msg.SourceType, &msg.InReplyToRootMessageID, &metadata, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.RawMessage = decodeMap(string(raw))
	msg.Metadata = decodeMap(string(metadata))
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}
