package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-engine/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrGroupNotFound        = errors.New("group not found")
)

// Queries is every read and write the chat engine issues. It is served both
// outside and inside a transaction.
type Queries interface {
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	FindDirectConversation(ctx context.Context, directKey string) (models.Conversation, error)
	InsertDirectConversation(ctx context.Context, directKey string, at time.Time) (int, bool, error)
	CreateConversation(ctx context.Context, kind models.ConversationKind, at time.Time) (models.Conversation, error)
	TouchConversation(ctx context.Context, conversationID int, at time.Time) error
	InboxRows(ctx context.Context, userID int) ([]models.InboxRow, error)

	AddParticipants(ctx context.Context, conversationID int, userIDs []int, at time.Time) (int, error)
	RemoveParticipant(ctx context.Context, conversationID, userID int) (bool, error)
	FindParticipant(ctx context.Context, conversationID, userID int) (models.Participant, error)
	ParticipantIDs(ctx context.Context, conversationID int) ([]int, error)
	ParticipantIDsFor(ctx context.Context, conversationIDs []int) (map[int][]int, error)
	AdvanceLastRead(ctx context.Context, conversationID, userID int, at time.Time) (bool, error)

	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int, before *models.Cursor, limit int) ([]models.Message, error)
	MessagesByID(ctx context.Context, messageIDs []int) ([]models.Message, error)
	InsertReadReceipts(ctx context.Context, conversationID, userID int, after, upTo, readAt time.Time) (int, error)
	ReadReceipts(ctx context.Context, messageID int) ([]models.ReadReceipt, error)

	CreateGroup(ctx context.Context, group models.Group) (models.Group, error)
	GetGroup(ctx context.Context, groupID int) (models.Group, error)
	UpdateGroup(ctx context.Context, group models.Group) error
	GroupsForConversations(ctx context.Context, conversationIDs []int) (map[int]models.GroupSummary, error)
	SearchGroups(ctx context.Context, userID int, pattern string, category models.GroupCategory, limit int) ([]models.GroupSearchResult, error)

	ProfilesByID(ctx context.Context, userIDs []int) ([]models.Profile, error)
	UpsertProfile(ctx context.Context, profile models.Profile) error
}

// Repository is a Queries that can also open a transaction.
type Repository interface {
	Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
	Ping(ctx context.Context) error
}

// Store is the sqlx implementation of Repository. The same queries run on
// postgres and sqlite; placeholders are rebound for the connected driver.
type Store struct {
	*queries
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore constructs a Store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{queries: &queries{ext: db}, db: db}
}

// WithTx runs fn inside one transaction, committing when it returns nil.
// fn must only use the Queries it is given.
func (s *Store) WithTx(ctx context.Context, fn func(Queries) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(&queries{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queries struct {
	ext sqlx.ExtContext
}

func (q *queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *queries) selectIn(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return q.sel(ctx, dest, query, args...)
}
