package catalog

import (
	"context"
	"strings"

	"campusmarket/internal/domain/shared/errs"
)

type ListingStatus string

const (
	ListingActive ListingStatus = "active"
	ListingSold   ListingStatus = "sold"
	ListingHidden ListingStatus = "hidden"
)

// Profile is the public part of a user document.
type Profile struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	SchoolID      string `json:"school_id,omitempty"`
	ReferralCode  string `json:"referral_code,omitempty"`
	ReferredBy    string `json:"referred_by,omitempty"`
	ReferralCount int    `json:"referral_count"`
}

// Name falls back to the id when no display name is set.
func (p Profile) Name() string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	return p.ID
}

type Listing struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	SellerID   string        `json:"seller_id"`
	SchoolID   string        `json:"school_id,omitempty"`
	PriceCents int64         `json:"price_cents"`
	Status     ListingStatus `json:"status"`
}

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingSold, ListingHidden:
		return true
	}
	return false
}

// Reader resolves profiles and listings by id.
type Reader interface {
	Profile(ctx context.Context, userID string) (Profile, error)
	Listing(ctx context.Context, listingID string) (Listing, error)
}

// The store accepts at most this many ids in one membership lookup.
const (
	MaxSellersPerLookup = 30
	MaxSchoolsPerLookup = 10
)

// ListingSearch returns listings whose seller or school is in the given set.
// Callers split larger sets into chunks.
type ListingSearch interface {
	ListingsBySellers(ctx context.Context, sellerIDs []string) ([]Listing, error)
	ListingsBySchools(ctx context.Context, schoolIDs []string) ([]Listing, error)
}

var ErrProfileNotFound = errs.NotFound("user not found")
var ErrListingNotFound = errs.NotFound("listing not found")
