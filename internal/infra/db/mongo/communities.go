package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusmarket/internal/domain/communities"
)

// CommunityRepository spans schools, users and referrals. Multi-document writes
// rely on the session injected by the unit of work.
type CommunityRepository struct {
	schools   *mongo.Collection
	users     *mongo.Collection
	referrals *mongo.Collection
	catalog   *CatalogRepository
}

func NewCommunityRepository(db *mongo.Database) *CommunityRepository {
	return &CommunityRepository{
		schools:   db.Collection(colSchools),
		users:     db.Collection(colUsers),
		referrals: db.Collection(colReferrals),
		catalog:   NewCatalogRepository(db),
	}
}

func (r *CommunityRepository) School(ctx context.Context, schoolID string) (communities.School, error) {
	var doc schoolDocument
	if err := decodeOne(r.schools.FindOne(ctx, bson.M{"_id": schoolID}), colSchools, schoolID, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return communities.School{}, communities.ErrSchoolNotFound
		}
		return communities.School{}, classify("find school", err)
	}
	return doc.toDomain()
}

func (r *CommunityRepository) SchoolsInState(ctx context.Context, state string) ([]communities.School, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := r.schools.Find(ctx, bson.M{"state": communities.NormalizeState(state)}, opts)
	if err != nil {
		return nil, classify("find schools", err)
	}
	return decodeAll(ctx, cur, colSchools, schoolDocument.toDomain)
}

func (r *CommunityRepository) Join(ctx context.Context, userID, schoolID string) (string, error) {
	profile, err := r.catalog.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.SchoolID == schoolID {
		return "", communities.ErrAlreadyMember
	}
	res, err := r.schools.UpdateOne(ctx, bson.M{"_id": schoolID}, bson.M{"$inc": bson.M{"member_count": 1}})
	if err != nil {
		return "", classify("join school", err)
	}
	if res.MatchedCount == 0 {
		return "", communities.ErrSchoolNotFound
	}
	if profile.SchoolID != "" {
		if err := r.decrementMembers(ctx, profile.SchoolID); err != nil {
			return "", err
		}
	}
	if _, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{"school_id": schoolID}}); err != nil {
		return "", classify("set user school", err)
	}
	return profile.SchoolID, nil
}

func (r *CommunityRepository) Leave(ctx context.Context, userID string) (string, error) {
	profile, err := r.catalog.Profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.SchoolID == "" {
		return "", communities.ErrNotMember
	}
	if err := r.decrementMembers(ctx, profile.SchoolID); err != nil {
		return "", err
	}
	if _, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$unset": bson.M{"school_id": ""}}); err != nil {
		return "", classify("clear user school", err)
	}
	return profile.SchoolID, nil
}

func (r *CommunityRepository) decrementMembers(ctx context.Context, schoolID string) error {
	filter := bson.M{"_id": schoolID, "member_count": bson.M{"$gt": 0}}
	if _, err := r.schools.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"member_count": -1}}); err != nil {
		return classify("leave school", err)
	}
	return nil
}

func (r *CommunityRepository) AddAdmin(ctx context.Context, schoolID, userID string) error {
	filter := bson.M{"_id": schoolID, "admins": bson.M{"$ne": userID}}
	res, err := r.schools.UpdateOne(ctx, filter, bson.M{"$addToSet": bson.M{"admins": userID}})
	if err != nil {
		return classify("add admin", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := r.School(ctx, schoolID); err != nil {
		return err
	}
	return communities.ErrAlreadyAdmin
}

// RemoveAdmin only matches while another admin remains, so concurrent removals
// cannot empty the list.
func (r *CommunityRepository) RemoveAdmin(ctx context.Context, schoolID, userID string) error {
	filter := bson.M{"_id": schoolID, "admins": userID, "admins.1": bson.M{"$exists": true}}
	res, err := r.schools.UpdateOne(ctx, filter, bson.M{"$pull": bson.M{"admins": userID}})
	if err != nil {
		return classify("remove admin", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	school, err := r.School(ctx, schoolID)
	if err != nil {
		return err
	}
	return school.CanRemoveAdmin(userID)
}

func (r *CommunityRepository) RecordReferral(ctx context.Context, code, referredUserID string, at time.Time) (communities.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var referrer profileDocument
	if err := decodeOne(r.users.FindOne(ctx, bson.M{"referral_code": code}), colUsers, code, &referrer); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return communities.Referral{}, communities.ErrUnknownCode
		}
		return communities.Referral{}, classify("find referral code", err)
	}
	if referrer.ID == referredUserID {
		return communities.Referral{}, communities.ErrSelfReferral
	}
	referred, err := r.catalog.Profile(ctx, referredUserID)
	if err != nil {
		return communities.Referral{}, err
	}
	if referred.ReferredBy != "" {
		return communities.Referral{}, communities.ErrAlreadyReferred
	}
	ref := communities.Referral{ReferredUserID: referredUserID, ReferrerID: referrer.ID, Code: code, CreatedAt: at.UTC()}
	doc := referralDocument{ReferredUserID: ref.ReferredUserID, ReferrerID: ref.ReferrerID, Code: ref.Code, CreatedAt: ref.CreatedAt}
	if _, err := r.referrals.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return communities.Referral{}, communities.ErrAlreadyReferred
		}
		return communities.Referral{}, classify("insert referral", err)
	}
	if _, err := r.users.UpdateOne(ctx, bson.M{"_id": referrer.ID}, bson.M{"$inc": bson.M{"referral_count": 1}}); err != nil {
		return communities.Referral{}, classify("count referral", err)
	}
	if _, err := r.users.UpdateOne(ctx, bson.M{"_id": referredUserID}, bson.M{"$set": bson.M{"referred_by": referrer.ID}}); err != nil {
		return communities.Referral{}, classify("mark referred", err)
	}
	return ref, nil
}

var _ communities.Repository = (*CommunityRepository)(nil)
