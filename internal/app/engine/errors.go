// Package engine holds the pieces shared by every marketplace operation:
// the closed error taxonomy and the checked arithmetic used for all fee and
// counter math.
package engine

import "errors"

// Validation failures.
var (
	ErrInvalidFeePercentage  = errors.New("invalid fee percentage")
	ErrPropertyIDTooLong     = errors.New("property id too long")
	ErrMetadataURITooLong    = errors.New("metadata uri too long")
	ErrLocationTooLong       = errors.New("location too long")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrInvalidOfferAmount    = errors.New("invalid offer amount")
	ErrInvalidExpirationTime = errors.New("invalid expiration time")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// Authorization failures.
var (
	ErrNotPropertyOwner          = errors.New("not property owner")
	ErrNotOfferBuyer             = errors.New("not offer buyer")
	ErrCannotOfferOwnProperty    = errors.New("cannot offer on own property")
	ErrUnauthorizedFeeWithdrawal = errors.New("unauthorized fee withdrawal")
)

// State-machine violations.
var (
	ErrPropertyNotActive     = errors.New("property not active")
	ErrOfferNotPending       = errors.New("offer not pending")
	ErrOfferExpired          = errors.New("offer expired")
	ErrOfferPropertyMismatch = errors.New("offer property mismatch")
	ErrMarketplaceExists     = errors.New("marketplace already exists")
	ErrPropertyExists        = errors.New("property already exists")
	ErrOfferExists           = errors.New("offer already exists")
)

// Resource-integrity failures.
var (
	ErrNotNFTOwner              = errors.New("not nft owner")
	ErrInvalidTokenAccountMint  = errors.New("invalid token account mint")
	ErrInvalidTokenAccountOwner = errors.New("invalid token account owner")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrInsufficientFeeBalance   = errors.New("insufficient fee balance")
)

// Arithmetic failures.
var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

// Not-found lookups surfaced to callers.
var (
	ErrMarketplaceNotFound = errors.New("marketplace not found")
	ErrPropertyNotFound    = errors.New("property not found")
	ErrOfferNotFound       = errors.New("offer not found")
)
