package communities

import (
	"time"

	"campusmarket/internal/app/commands"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
)

type Deps struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Listings   catalog.ListingSearch
	Now        func() time.Time
}

// Register wires the community handlers into the buses.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, d Deps) {
	commands.RegisterHandler[JoinSchoolCommand, *MembershipResult](cmdBus, &JoinSchoolHandler{
		UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now,
	})
	commands.RegisterHandler[LeaveSchoolCommand, *MembershipResult](cmdBus, &LeaveSchoolHandler{
		UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now,
	})
	adminHandler := &ChangeAdminHandler{UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now}
	commands.RegisterHandler[AddAdminCommand, *AdminsResult](cmdBus, commands.HandlerFunc[AddAdminCommand, *AdminsResult](adminHandler.Add))
	commands.RegisterHandler[RemoveAdminCommand, *AdminsResult](cmdBus, commands.HandlerFunc[RemoveAdminCommand, *AdminsResult](adminHandler.Remove))
	commands.RegisterHandler[RecordReferralCommand, *RecordReferralResult](cmdBus, &RecordReferralHandler{
		UoWFactory: d.UoWFactory, Outbox: d.Outbox, Encoder: d.Encoder, Now: d.Now,
	})

	queries.RegisterHandler[AdminListingsQuery, []catalog.Listing](queryBus, &AdminListingsHandler{UoWFactory: d.UoWFactory, Listings: d.Listings})
	queries.RegisterHandler[StateListingsQuery, []catalog.Listing](queryBus, &StateListingsHandler{UoWFactory: d.UoWFactory, Listings: d.Listings})
}
