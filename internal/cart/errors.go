package cart

import "errors"

var (
	ErrOutOfStock           = errors.New("product is out of stock")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrExpiredStock         = errors.New("all batches for product are expired")
	ErrNoValidBatches       = errors.New("no valid batches for product")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrLineNotFound         = errors.New("cart line not found")
	ErrConfirmationResolved = errors.New("confirmation already resolved")
)
