package mongodb

import (
	"context"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

const (
	partsCollection         = "parts"
	movementsCollection     = "stock_movements"
	quotesCollection        = "devis"
	notificationsCollection = "notifications"
	templatesCollection     = "notification_templates"
	reportsCollection       = "delivery_reports"
)

// Repository owns the MongoDB connection and hands out the stores built on it.
type Repository struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewRepository connects, pings and ensures indexes.
func NewRepository(ctx context.Context, uri string, dbName string, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().ApplyURI(uri).SetRegistry(newRegistry())
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	r := &Repository{client: client, db: client.Database(dbName), logger: logger}
	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return r, nil
}

// newRegistry decodes nested documents as bson.M so payloads stay plain maps
// and encode back to regular JSON objects.
func newRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeMapEntry(bson.TypeEmbeddedDocument, reflect.TypeOf(bson.M{}))
	return reg
}

func (r *Repository) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		movementsCollection: {
			{Keys: bson.D{{Key: "part_reference", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		quotesCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "client_company", Value: 1}}},
		},
		notificationsCollection: {
			{
				Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "target_erp", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("event_target_unique"),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}

	for coll, idx := range indexes {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Ledger returns the parts ledger store.
func (r *Repository) Ledger() *Ledger {
	return &Ledger{
		parts:     r.db.Collection(partsCollection),
		movements: r.db.Collection(movementsCollection),
		logger:    r.logger.Named("ledger"),
	}
}

// Quotes returns the quote store.
func (r *Repository) Quotes() *QuoteStore {
	return &QuoteStore{coll: r.db.Collection(quotesCollection)}
}

// Notifications returns the delivery record store.
func (r *Repository) Notifications() *NotificationStore {
	return &NotificationStore{coll: r.db.Collection(notificationsCollection)}
}

// Templates returns the notification template store.
func (r *Repository) Templates() *TemplateStore {
	return &TemplateStore{coll: r.db.Collection(templatesCollection)}
}

// SaveDeliveryReport stores a daily delivery report.
func (r *Repository) SaveDeliveryReport(ctx context.Context, report models.DeliveryReport) error {
	_, err := r.db.Collection(reportsCollection).InsertOne(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to insert delivery report: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
