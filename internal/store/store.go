package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatrelay/internal/apperr"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

var (
	ErrServerNotFound  = apperr.NotFound("message server not found")
	ErrChannelNotFound = apperr.NotFound("channel not found")
	ErrConflict        = apperr.E(apperr.KindConflict, "entity already exists", nil)
)

// DataStore defines the persistence contract for servers, channels,
// messages, participants and agent associations. Both PostgresStore and
// SQLiteStore implement this interface.
//
// Lookups of a single entity return (nil, nil) when it does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Server operations
	CreateServer(ctx context.Context, server *models.Server) (*models.Server, error)
	GetServers(ctx context.Context) ([]models.Server, error)
	GetServer(ctx context.Context, id uuid.UUID) (*models.Server, error)

	// Channel operations
	CreateChannel(ctx context.Context, channel *models.Channel, participantIDs []string) (*models.Channel, error)
	FindOrCreateChannel(ctx context.Context, channel *models.Channel, participantIDs []string) (*models.Channel, error)
	GetChannelDetails(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetChannelsForServer(ctx context.Context, serverID uuid.UUID) ([]models.Channel, error)
	DeleteChannel(ctx context.Context, id uuid.UUID) error
	GetChannelParticipants(ctx context.Context, channelID uuid.UUID) ([]string, error)
	AddParticipantsToChannel(ctx context.Context, channelID uuid.UUID, userIDs []string) error
	FindOrCreateCentralDmChannel(ctx context.Context, userA, userB string, serverID uuid.UUID) (*models.Channel, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error)
	GetMessagesForChannel(ctx context.Context, channelID uuid.UUID, limit int, before *time.Time) ([]models.Message, error)
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	ClearChannelMessages(ctx context.Context, channelID uuid.UUID) error

	// Agent operations
	UpsertAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	AddAgentToServer(ctx context.Context, serverID, agentID uuid.UUID) error
	RemoveAgentFromServer(ctx context.Context, serverID, agentID uuid.UUID) error
	GetAgentsForServer(ctx context.Context, serverID uuid.UUID) ([]uuid.UUID, error)
	GetServersForAgent(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error)

	// Relationship operations
	CreateRelationship(ctx context.Context, rel *models.Relationship) (*models.Relationship, error)
	GetRelationships(ctx context.Context, entityID string) ([]models.Relationship, error)
}

// Options selects and configures a DataStore implementation.
type Options struct {
	DatabaseURL string // PostgreSQL; takes precedence when set
	SQLitePath  string
}

// Open connects to PostgreSQL when a database URL is configured and falls
// back to a local SQLite file otherwise.
func Open(ctx context.Context, opts Options) (DataStore, error) {
	if opts.DatabaseURL != "" {
		return NewPostgresStore(ctx, opts.DatabaseURL)
	}
	return NewSQLiteStore(ctx, opts.SQLitePath)
}

// DMKey canonicalizes an unordered user pair within a server so that
// argument order never yields a second channel. User ids are free-form, so
// the first id is length-prefixed to keep the encoding unambiguous.
func DMKey(userA, userB string, serverID uuid.UUID) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return serverID.String() + ":" + strconv.Itoa(len(userA)) + ":" + userA + ":" + userB
}

// normalizeMessage fills the generated fields of a new message.
func normalizeMessage(msg *models.Message) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.Must(uuid.NewV7())
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Millisecond)
}

// normalizeChannel fills defaults for a new channel.
func normalizeChannel(ch *models.Channel) {
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	if ch.Type == "" {
		ch.Type = models.ChannelTypeGroup
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = now
	}
	ch.UpdatedAt = now
}

// dedupeIDs drops empty and repeated ids while keeping order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(op, err)
}
