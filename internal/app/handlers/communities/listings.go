package communities

import (
	"context"
	"sort"
	"strings"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
	domaincommunities "campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/shared/errs"
)

const (
	adminListingsKey = "communities.admin_listings"
	stateListingsKey = "communities.state_listings"
)

type AdminListingsQuery struct {
	SchoolID string
}

func (AdminListingsQuery) Key() string { return adminListingsKey }

func (q AdminListingsQuery) Validate() error {
	if strings.TrimSpace(q.SchoolID) == "" {
		return errs.Validation("school id is required")
	}
	return nil
}

// AdminListingsHandler lists visible listings sold by a school's admins.
type AdminListingsHandler struct {
	UoWFactory uow.UoWFactory
	Listings   catalog.ListingSearch
}

func (h *AdminListingsHandler) Handle(ctx context.Context, q AdminListingsQuery) ([]catalog.Listing, error) {
	school, err := support.Run(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) (domaincommunities.School, error) {
		return unit.Communities().School(ctx, q.SchoolID)
	})
	if err != nil {
		return nil, err
	}
	listings, err := support.FanOut(ctx, school.Admins, domaincommunities.AdminLookupChunk, h.Listings.ListingsBySellers)
	if err != nil {
		return nil, err
	}
	return visible(listings), nil
}

type StateListingsQuery struct {
	State string
}

func (StateListingsQuery) Key() string { return stateListingsKey }

func (q StateListingsQuery) Validate() error {
	if domaincommunities.NormalizeState(q.State) == "" {
		return errs.Validation("state is required")
	}
	return nil
}

// StateListingsHandler lists visible listings of every school in a state.
type StateListingsHandler struct {
	UoWFactory uow.UoWFactory
	Listings   catalog.ListingSearch
}

func (h *StateListingsHandler) Handle(ctx context.Context, q StateListingsQuery) ([]catalog.Listing, error) {
	schools, err := support.Run(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true}, func(ctx context.Context, unit uow.UnitOfWork) ([]domaincommunities.School, error) {
		return unit.Communities().SchoolsInState(ctx, domaincommunities.NormalizeState(q.State))
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(schools))
	for _, s := range schools {
		ids = append(ids, s.ID)
	}
	listings, err := support.FanOut(ctx, ids, domaincommunities.StateLookupChunk, h.Listings.ListingsBySchools)
	if err != nil {
		return nil, err
	}
	return visible(listings), nil
}

func visible(listings []catalog.Listing) []catalog.Listing {
	out := make([]catalog.Listing, 0, len(listings))
	for _, l := range listings {
		if l.Status == catalog.ListingHidden {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
