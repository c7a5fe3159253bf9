package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ notification.HistoryRepository = (*HistoryRepository)(nil)

// HistoryRepository persists notification history in a Mongo collection,
// one document per notification with the request id as _id.
type HistoryRepository struct {
	coll      *mongo.Collection
	opTimeout time.Duration
}

// NewHistoryRepository creates the repository and ensures its indexes.
func NewHistoryRepository(ctx context.Context, db *mongo.Database, opTimeout time.Duration) (*HistoryRepository, error) {
	r := &HistoryRepository{
		coll:      db.Collection(historyCollection),
		opTimeout: opTimeout,
	}

	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "external_message_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		// Serves both the reaper's stale scan and the failed-for-retry scan.
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating history indexes: %w", err)
	}

	return r, nil
}

// historyDoc is the persisted representation of a history record.
type historyDoc struct {
	ID                string            `bson:"_id"`
	UserID            string            `bson:"user_id,omitempty"`
	TemplateID        string            `bson:"template_id,omitempty"`
	TemplateName      string            `bson:"template_name,omitempty"`
	Channel           string            `bson:"channel"`
	Status            string            `bson:"status"`
	Recipient         recipientDoc      `bson:"recipient"`
	Variables         map[string]string `bson:"variables,omitempty"`
	Priority          int               `bson:"priority,omitempty"`
	Content           *contentDoc       `bson:"content,omitempty"`
	RetryCount        int               `bson:"retry_count"`
	MaxRetries        int               `bson:"max_retries"`
	ErrorMessage      string            `bson:"error_message,omitempty"`
	ExternalMessageID string            `bson:"external_message_id,omitempty"`
	Metadata          map[string]string `bson:"metadata,omitempty"`
	ScheduledAt       *time.Time        `bson:"scheduled_at,omitempty"`
	SentAt            *time.Time        `bson:"sent_at,omitempty"`
	CreatedAt         time.Time         `bson:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at"`
}

type recipientDoc struct {
	Email       string `bson:"email,omitempty"`
	PhoneNumber string `bson:"phone_number,omitempty"`
	DeviceToken string `bson:"device_token,omitempty"`
	Language    string `bson:"language,omitempty"`
	Timezone    string `bson:"timezone,omitempty"`
}

type contentDoc struct {
	Subject   string            `bson:"subject,omitempty"`
	Body      string            `bson:"body"`
	Variables map[string]string `bson:"variables,omitempty"`
}

// Create inserts a new history record.
func (r *HistoryRepository) Create(ctx context.Context, h *notification.NotificationHistory) error {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, historyToDoc(h)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.NewValidationError(
				fmt.Sprintf("notification %s already exists", h.ID))
		}
		return fmt.Errorf("inserting history %s: %w", h.ID, err)
	}
	return nil
}

// Update replaces the stored record identified by h.ID.
func (r *HistoryRepository) Update(ctx context.Context, h *notification.NotificationHistory) error {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": h.ID}, historyToDoc(h))
	if err != nil {
		return fmt.Errorf("updating history %s: %w", h.ID, err)
	}
	if result.MatchedCount == 0 {
		return common.NewNotFoundError("notification", h.ID)
	}
	return nil
}

// GetByID retrieves a history record by its id. Returns nil, nil when
// no record matches.
func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*notification.NotificationHistory, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	var doc historyDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching history %s: %w", id, err)
	}
	return docToHistory(&doc), nil
}

// GetByExternalMessageID retrieves the record the provider's message id
// belongs to. Returns nil, nil when no record matches.
func (r *HistoryRepository) GetByExternalMessageID(ctx context.Context, externalID string) (*notification.NotificationHistory, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	var doc historyDoc
	err := r.coll.FindOne(ctx, bson.M{"external_message_id": externalID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching history by external id %s: %w", externalID, err)
	}
	return docToHistory(&doc), nil
}

// GetByUserID retrieves history records for a user, newest first.
func (r *HistoryRepository) GetByUserID(ctx context.Context, userID string, limit int) ([]*notification.NotificationHistory, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("listing history for user %s: %w", userID, err)
	}

	var docs []historyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding history for user %s: %w", userID, err)
	}
	return docsToHistories(docs), nil
}

// List retrieves history records with pagination and filtering, newest
// first.
func (r *HistoryRepository) List(ctx context.Context, filter notification.ListFilter) ([]*notification.NotificationHistory, int, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Channel != "" {
		query["channel"] = filter.Channel
	}

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("counting history records: %w", err)
	}

	skip := (filter.Page - 1) * filter.PageSize
	cursor, err := r.coll.Find(ctx, query,
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetSkip(int64(skip)).
			SetLimit(int64(filter.PageSize)))
	if err != nil {
		return nil, 0, fmt.Errorf("listing history records: %w", err)
	}

	var docs []historyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decoding history records: %w", err)
	}
	return docsToHistories(docs), int(total), nil
}

// GetFailedForRetry retrieves failed records that still have retry
// budget left, oldest first.
func (r *HistoryRepository) GetFailedForRetry(ctx context.Context, limit int) ([]*notification.NotificationHistory, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	query := bson.M{
		"status": string(notification.StatusFailed),
		"$expr":  bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}},
	}

	cursor, err := r.coll.Find(ctx, query,
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: 1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("listing retryable failures: %w", err)
	}

	var docs []historyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding retryable failures: %w", err)
	}
	return docsToHistories(docs), nil
}

// ListStale retrieves records stuck in pending or retrying since before
// olderThan, oldest first.
func (r *HistoryRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*notification.NotificationHistory, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	query := bson.M{
		"status": bson.M{"$in": []string{
			string(notification.StatusPending),
			string(notification.StatusRetrying),
		}},
		"updated_at": bson.M{"$lt": olderThan},
	}

	cursor, err := r.coll.Find(ctx, query,
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: 1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("listing stale records: %w", err)
	}

	var docs []historyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding stale records: %w", err)
	}
	return docsToHistories(docs), nil
}

func historyToDoc(h *notification.NotificationHistory) *historyDoc {
	doc := &historyDoc{
		ID:           h.ID,
		UserID:       h.UserID,
		TemplateID:   h.TemplateID,
		TemplateName: h.TemplateName,
		Channel:      string(h.Channel),
		Status:       string(h.Status),
		Recipient: recipientDoc{
			Email:       h.Recipient.Email,
			PhoneNumber: h.Recipient.PhoneNumber,
			DeviceToken: h.Recipient.DeviceToken,
			Language:    h.Recipient.Language,
			Timezone:    h.Recipient.Timezone,
		},
		Variables:         h.Variables,
		Priority:          h.Priority,
		RetryCount:        h.RetryCount,
		MaxRetries:        h.MaxRetries,
		ErrorMessage:      h.ErrorMessage,
		ExternalMessageID: h.ExternalMessageID,
		Metadata:          h.Metadata,
		ScheduledAt:       h.ScheduledAt,
		SentAt:            h.SentAt,
		CreatedAt:         h.CreatedAt,
		UpdatedAt:         h.UpdatedAt,
	}
	if h.Content != nil {
		doc.Content = &contentDoc{
			Subject:   h.Content.Subject,
			Body:      h.Content.Body,
			Variables: h.Content.Variables,
		}
	}
	return doc
}

func docToHistory(doc *historyDoc) *notification.NotificationHistory {
	h := &notification.NotificationHistory{
		ID:           doc.ID,
		UserID:       doc.UserID,
		TemplateID:   doc.TemplateID,
		TemplateName: doc.TemplateName,
		Channel:      notification.Channel(doc.Channel),
		Status:       notification.Status(doc.Status),
		Recipient: notification.Recipient{
			Email:       doc.Recipient.Email,
			PhoneNumber: doc.Recipient.PhoneNumber,
			DeviceToken: doc.Recipient.DeviceToken,
			Language:    doc.Recipient.Language,
			Timezone:    doc.Recipient.Timezone,
		},
		Variables:         doc.Variables,
		Priority:          doc.Priority,
		RetryCount:        doc.RetryCount,
		MaxRetries:        doc.MaxRetries,
		ErrorMessage:      doc.ErrorMessage,
		ExternalMessageID: doc.ExternalMessageID,
		Metadata:          doc.Metadata,
		ScheduledAt:       doc.ScheduledAt,
		SentAt:            doc.SentAt,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if doc.Content != nil {
		h.Content = &notification.Content{
			Subject:   doc.Content.Subject,
			Body:      doc.Content.Body,
			Variables: doc.Content.Variables,
		}
	}
	return h
}

func docsToHistories(docs []historyDoc) []*notification.NotificationHistory {
	histories := make([]*notification.NotificationHistory, len(docs))
	for i := range docs {
		histories[i] = docToHistory(&docs[i])
	}
	return histories
}
