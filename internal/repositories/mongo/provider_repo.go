package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dagornc/DagBot/internal/models"
	"github.com/dagornc/DagBot/internal/utils"
)

// ProviderRepo is the keyed store for user-added providers. Built-in
// providers never live here; they come from static configuration.
type ProviderRepo interface {
	Insert(ctx context.Context, p *models.Provider) error
	GetByName(ctx context.Context, name string) (*models.Provider, error)
	List(ctx context.Context) ([]models.Provider, error)
	Update(ctx context.Context, p *models.Provider) error
	Delete(ctx context.Context, name string) error
}

type providerRepo struct {
	col *mongo.Collection
}

func NewProviderRepo(db *mongo.Database) ProviderRepo {
	return &providerRepo{col: db.Collection("custom_providers")}
}

// EnsureIndexes creates the unique name index backing Conflict detection.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("custom_providers").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *providerRepo) Insert(ctx context.Context, p *models.Provider) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Custom = true

	_, err := r.col.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return utils.E(utils.CodeConflict, "ProviderRepo.Insert", "provider name already exists", err)
	}
	return err
}

func (r *providerRepo) GetByName(ctx context.Context, name string) (*models.Provider, error) {
	var p models.Provider
	err := r.col.FindOne(ctx, bson.M{"name": name}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &p, err
}

// List returns user-added providers in creation order.
func (r *providerRepo) List(ctx context.Context) ([]models.Provider, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Provider
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *providerRepo) Update(ctx context.Context, p *models.Provider) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := r.col.UpdateOne(ctx,
		bson.M{"name": p.Name},
		bson.M{"$set": bson.M{
			"display_name":    p.DisplayName,
			"base_url":        p.BaseURL,
			"api_key":         p.APIKey,
			"default_model":   p.DefaultModel,
			"access_method":   p.AccessMethod,
			"icon":            p.Icon,
			"description":     p.Description,
			"models":          p.Models,
			"supports_vision": p.SupportsVision,
			"system_role":     p.SystemRole,
			"auto_alias":      p.AutoAlias,
			"updated_at":      p.UpdatedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *providerRepo) Delete(ctx context.Context, name string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}
