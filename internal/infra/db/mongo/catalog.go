package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/shared/errs"
)

// CatalogRepository reads the users and listings collections owned by the
// marketplace services.
type CatalogRepository struct {
	users    *mongo.Collection
	listings *mongo.Collection
}

func NewCatalogRepository(db *mongo.Database) *CatalogRepository {
	return &CatalogRepository{users: db.Collection(colUsers), listings: db.Collection(colListings)}
}

func (r *CatalogRepository) Profile(ctx context.Context, userID string) (catalog.Profile, error) {
	var doc profileDocument
	if err := decodeOne(r.users.FindOne(ctx, bson.M{"_id": userID}), colUsers, userID, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return catalog.Profile{}, catalog.ErrProfileNotFound
		}
		return catalog.Profile{}, classify("find user", err)
	}
	return doc.toDomain()
}

func (r *CatalogRepository) Listing(ctx context.Context, listingID string) (catalog.Listing, error) {
	var doc listingDocument
	if err := decodeOne(r.listings.FindOne(ctx, bson.M{"_id": listingID}), colListings, listingID, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return catalog.Listing{}, catalog.ErrListingNotFound
		}
		return catalog.Listing{}, classify("find listing", err)
	}
	return doc.toDomain()
}

func (r *CatalogRepository) ListingsBySellers(ctx context.Context, sellerIDs []string) ([]catalog.Listing, error) {
	if len(sellerIDs) > catalog.MaxSellersPerLookup {
		return nil, errs.Validationf("at most %d sellers per lookup", catalog.MaxSellersPerLookup)
	}
	return r.findIn(ctx, "seller_id", sellerIDs)
}

func (r *CatalogRepository) ListingsBySchools(ctx context.Context, schoolIDs []string) ([]catalog.Listing, error) {
	if len(schoolIDs) > catalog.MaxSchoolsPerLookup {
		return nil, errs.Validationf("at most %d schools per lookup", catalog.MaxSchoolsPerLookup)
	}
	return r.findIn(ctx, "school_id", schoolIDs)
}

func (r *CatalogRepository) findIn(ctx context.Context, field string, ids []string) ([]catalog.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := r.listings.Find(ctx, bson.M{field: bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, classify("find listings", err)
	}
	return decodeAll(ctx, cur, colListings, listingDocument.toDomain)
}

var (
	_ catalog.Reader        = (*CatalogRepository)(nil)
	_ catalog.ListingSearch = (*CatalogRepository)(nil)
)
