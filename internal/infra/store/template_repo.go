package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickymta/isra-notification-service/internal/common"
	"github.com/rickymta/isra-notification-service/internal/domain/notification"
	"github.com/rickymta/isra-notification-service/internal/domain/template"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ template.Repository = (*TemplateRepository)(nil)

// TemplateRepository persists notification templates in a Mongo
// collection, one document per template with the domain id as _id.
type TemplateRepository struct {
	coll      *mongo.Collection
	opTimeout time.Duration
}

// NewTemplateRepository creates the repository and ensures its indexes.
// The (name, language) pair is unique at the store level so concurrent
// admin writes cannot slip duplicate templates past the service check.
func NewTemplateRepository(ctx context.Context, db *mongo.Database, opTimeout time.Duration) (*TemplateRepository, error) {
	r := &TemplateRepository{
		coll:      db.Collection(templatesCollection),
		opTimeout: opTimeout,
	}

	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}, {Key: "language", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "channel", Value: 1}, {Key: "name", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating template indexes: %w", err)
	}

	return r, nil
}

// templateDoc is the persisted representation of a template.
type templateDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Language  string    `bson:"language"`
	Channel   string    `bson:"channel"`
	Subject   string    `bson:"subject,omitempty"`
	Body      string    `bson:"body"`
	Variables []string  `bson:"variables,omitempty"`
	IsActive  bool      `bson:"is_active"`
	Version   int       `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// GetByID retrieves a template by its id. Returns nil, nil when no
// template matches.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*template.NotificationTemplate, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	var doc templateDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching template %s: %w", id, err)
	}
	return docToTemplate(&doc), nil
}

// GetByNameAndLanguage retrieves a template by its (name, language)
// pair. Returns nil, nil when no template matches.
func (r *TemplateRepository) GetByNameAndLanguage(ctx context.Context, name, language string) (*template.NotificationTemplate, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	var doc templateDoc
	err := r.coll.FindOne(ctx, bson.M{"name": name, "language": language}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching template %s/%s: %w", name, language, err)
	}
	return docToTemplate(&doc), nil
}

// GetByChannel retrieves all templates for one delivery channel,
// ordered by name.
func (r *TemplateRepository) GetByChannel(ctx context.Context, ch notification.Channel) ([]*template.NotificationTemplate, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, bson.M{"channel": string(ch)},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "language", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing templates for channel %s: %w", ch, err)
	}

	var docs []templateDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding templates for channel %s: %w", ch, err)
	}
	return docsToTemplates(docs), nil
}

// GetAll retrieves every template, ordered by name.
func (r *TemplateRepository) GetAll(ctx context.Context) ([]*template.NotificationTemplate, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "language", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	var docs []templateDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding templates: %w", err)
	}
	return docsToTemplates(docs), nil
}

// Create inserts a new template.
func (r *TemplateRepository) Create(ctx context.Context, t *template.NotificationTemplate) error {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	if _, err := r.coll.InsertOne(ctx, templateToDoc(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.NewValidationError(
				fmt.Sprintf("template %q already exists for language %q", t.Name, t.Language))
		}
		return fmt.Errorf("inserting template %s: %w", t.ID, err)
	}
	return nil
}

// Update replaces the stored template identified by t.ID.
func (r *TemplateRepository) Update(ctx context.Context, t *template.NotificationTemplate) error {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": t.ID}, templateToDoc(t))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return common.NewValidationError(
				fmt.Sprintf("template %q already exists for language %q", t.Name, t.Language))
		}
		return fmt.Errorf("updating template %s: %w", t.ID, err)
	}
	if result.MatchedCount == 0 {
		return common.NewNotFoundError("template", t.ID)
	}
	return nil
}

// Delete removes a template by id.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting template %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return common.NewNotFoundError("template", id)
	}
	return nil
}

// Exists reports whether a template with the given id exists.
func (r *TemplateRepository) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := opContext(ctx, r.opTimeout)
	defer cancel()

	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("checking template %s: %w", id, err)
	}
	return count > 0, nil
}

func templateToDoc(t *template.NotificationTemplate) *templateDoc {
	return &templateDoc{
		ID:        t.ID,
		Name:      t.Name,
		Language:  t.Language,
		Channel:   string(t.Channel),
		Subject:   t.Subject,
		Body:      t.Body,
		Variables: t.Variables,
		IsActive:  t.IsActive,
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func docToTemplate(doc *templateDoc) *template.NotificationTemplate {
	return &template.NotificationTemplate{
		ID:        doc.ID,
		Name:      doc.Name,
		Language:  doc.Language,
		Channel:   notification.Channel(doc.Channel),
		Subject:   doc.Subject,
		Body:      doc.Body,
		Variables: doc.Variables,
		IsActive:  doc.IsActive,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func docsToTemplates(docs []templateDoc) []*template.NotificationTemplate {
	templates := make([]*template.NotificationTemplate, len(docs))
	for i := range docs {
		templates[i] = docToTemplate(&docs[i])
	}
	return templates
}
