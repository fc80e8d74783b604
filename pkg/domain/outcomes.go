package domain

// Operation outcomes are values, not errors: business-rule rejections are
// expected, frequent control-flow results. A separate error channel is
// reserved for storage failures and truly unexpected conditions.

// SellStatus tags the result of a sell operation.
type SellStatus string

const (
	// SellSold means the ticket was sold and durably journaled.
	SellSold SellStatus = "sold"
	// SellAlreadySold means another active sale holds the ticket.
	SellAlreadySold SellStatus = "already_sold"
	// SellAssignedToOther means the ticket is reserved for a different owner.
	SellAssignedToOther SellStatus = "assigned_to_other"
	// SellNotInBuyersLot means the buyer holds a lot and the ticket is outside it.
	SellNotInBuyersLot SellStatus = "not_in_buyers_lot"
	// SellOutOfRange means the ticket lies outside the configured numbering window.
	SellOutOfRange SellStatus = "out_of_range"
	// SellStorageUnavailable means the journal write failed after retries;
	// no state changed and the caller may retry.
	SellStorageUnavailable SellStatus = "storage_unavailable"
)

// SellResult is the outcome of a single sell operation.
type SellResult struct {
	Status SellStatus
	// Owner names the conflicting assignment owner when Status is
	// SellAssignedToOther.
	Owner string
	// Sale is the materialized row when Status is SellSold, and the existing
	// row when Status is SellAlreadySold.
	Sale Sale
}

// ReturnStatus tags the result of a return operation.
type ReturnStatus string

const (
	// Returned means the sale row was removed and the return journaled.
	Returned ReturnStatus = "returned"
	// ReturnNotOwned means no active sale by that buyer holds the ticket.
	ReturnNotOwned ReturnStatus = "not_owned"
	// ReturnStorageUnavailable means the journal write failed after retries.
	ReturnStorageUnavailable ReturnStatus = "storage_unavailable"
)

// ReturnResult is the outcome of a single return operation.
type ReturnResult struct {
	Status ReturnStatus
	Return Return
}

// AssignStatus tags the result of assigning one ticket.
type AssignStatus string

const (
	// Assigned means a new reservation row was created.
	Assigned AssignStatus = "assigned"
	// AssignedToSelf means the owner already held the reservation.
	AssignedToSelf AssignStatus = "already_assigned_to_self"
	// AssignConflict means a different owner holds the reservation.
	AssignConflict AssignStatus = "conflict"
)

// AssignResult is the per-ticket outcome of an assign operation.
type AssignResult struct {
	Ticket int
	Status AssignStatus
	// Owner names the current holder when Status is AssignConflict.
	Owner string
}

// RegisterStatus tags the result of a user registration.
type RegisterStatus string

const (
	// Registered means a new user row was created.
	Registered RegisterStatus = "registered"
	// RegisterNameTaken means the display name collides case-insensitively.
	RegisterNameTaken RegisterStatus = "name_taken"
	// RegisterAlreadyRegistered means the id is already registered.
	RegisterAlreadyRegistered RegisterStatus = "already_registered"
)

// RegisterResult is the outcome of a registration.
type RegisterResult struct {
	Status RegisterStatus
	User   User
}
