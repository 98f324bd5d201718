package vault

import "errors"

var (
	ErrZeroAmount           = errors.New("zero amount is not allowed")
	ErrInsufficientBalance  = errors.New("insufficient vault balance")
	ErrUnauthorizedExecutor = errors.New("caller is not authorized to execute transfers")
	ErrNotVaultOwner        = errors.New("caller is not the vault admin")
)
