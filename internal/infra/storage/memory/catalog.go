package memory

import (
	"context"
	"sort"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/shared/errs"
)

// CatalogRepository reads profiles and listings. The id-set lookups enforce the
// same list caps as the document store so chunking bugs surface in tests.
type CatalogRepository struct {
	store *Store
}

func (r *CatalogRepository) Profile(ctx context.Context, userID string) (catalog.Profile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.profiles[userID]
	if !ok {
		return catalog.Profile{}, catalog.ErrProfileNotFound
	}
	return p, nil
}

func (r *CatalogRepository) Listing(ctx context.Context, listingID string) (catalog.Listing, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	l, ok := r.store.listings[listingID]
	if !ok {
		return catalog.Listing{}, catalog.ErrListingNotFound
	}
	return l, nil
}

func (r *CatalogRepository) ListingsBySellers(ctx context.Context, sellerIDs []string) ([]catalog.Listing, error) {
	if len(sellerIDs) > catalog.MaxSellersPerLookup {
		return nil, errs.Validationf("at most %d sellers per lookup", catalog.MaxSellersPerLookup)
	}
	return r.match(sellerIDs, func(l catalog.Listing) string { return l.SellerID }), nil
}

func (r *CatalogRepository) ListingsBySchools(ctx context.Context, schoolIDs []string) ([]catalog.Listing, error) {
	if len(schoolIDs) > catalog.MaxSchoolsPerLookup {
		return nil, errs.Validationf("at most %d schools per lookup", catalog.MaxSchoolsPerLookup)
	}
	return r.match(schoolIDs, func(l catalog.Listing) string { return l.SchoolID }), nil
}

func (r *CatalogRepository) match(ids []string, field func(catalog.Listing) string) []catalog.Listing {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []catalog.Listing
	for _, l := range r.store.listings {
		if _, ok := set[field(l)]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var (
	_ catalog.Reader        = (*CatalogRepository)(nil)
	_ catalog.ListingSearch = (*CatalogRepository)(nil)
)
