package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/app/commands"
	communitiesapp "campusmarket/internal/app/handlers/communities"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/shared/errs"
)

type CommunityHTTP interface {
	Join(c *gin.Context)
	Leave(c *gin.Context)
	AddAdmin(c *gin.Context)
	RemoveAdmin(c *gin.Context)
	AdminListings(c *gin.Context)
	StateListings(c *gin.Context)
	RecordReferral(c *gin.Context)
}

type CommunityHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h CommunityHandler) Join(c *gin.Context) {
	res, err := commands.Dispatch[communitiesapp.JoinSchoolCommand, *communitiesapp.MembershipResult](c.Request.Context(), h.Commands, communitiesapp.JoinSchoolCommand{
		SchoolID: c.Param("id"),
		UserID:   currentUser(c),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h CommunityHandler) Leave(c *gin.Context) {
	res, err := commands.Dispatch[communitiesapp.LeaveSchoolCommand, *communitiesapp.MembershipResult](c.Request.Context(), h.Commands, communitiesapp.LeaveSchoolCommand{
		UserID: currentUser(c),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type addAdminRequest struct {
	UserID string `json:"user_id"`
}

func (h CommunityHandler) AddAdmin(c *gin.Context) {
	var req addAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.Logger, errs.Validation("invalid request body"))
		return
	}
	res, err := commands.Dispatch[communitiesapp.AddAdminCommand, *communitiesapp.AdminsResult](c.Request.Context(), h.Commands, communitiesapp.AddAdminCommand{
		SchoolID: c.Param("id"),
		ActorID:  currentUser(c),
		UserID:   req.UserID,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h CommunityHandler) RemoveAdmin(c *gin.Context) {
	res, err := commands.Dispatch[communitiesapp.RemoveAdminCommand, *communitiesapp.AdminsResult](c.Request.Context(), h.Commands, communitiesapp.RemoveAdminCommand{
		SchoolID: c.Param("id"),
		ActorID:  currentUser(c),
		UserID:   c.Param("userId"),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h CommunityHandler) AdminListings(c *gin.Context) {
	listings, err := queries.Ask[communitiesapp.AdminListingsQuery, []catalog.Listing](c.Request.Context(), h.Queries, communitiesapp.AdminListingsQuery{
		SchoolID: c.Param("id"),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(listings)})
}

func (h CommunityHandler) StateListings(c *gin.Context) {
	listings, err := queries.Ask[communitiesapp.StateListingsQuery, []catalog.Listing](c.Request.Context(), h.Queries, communitiesapp.StateListingsQuery{
		State: c.Param("state"),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": nonNil(listings)})
}

type referralRequest struct {
	Code string `json:"code"`
}

func (h CommunityHandler) RecordReferral(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.Logger, errs.Validation("invalid request body"))
		return
	}
	res, err := commands.Dispatch[communitiesapp.RecordReferralCommand, *communitiesapp.RecordReferralResult](c.Request.Context(), h.Commands, communitiesapp.RecordReferralCommand{
		Code:   req.Code,
		UserID: currentUser(c),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func nonNil(listings []catalog.Listing) []catalog.Listing {
	if listings == nil {
		return []catalog.Listing{}
	}
	return listings
}
