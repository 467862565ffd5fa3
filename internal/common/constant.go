package common

const (
	// TokenType is reported alongside every issued access token.
	TokenType = "bearer"

	// CodeAlphabet is used for backup and device verification codes. It leaves
	// out characters that are easy to confuse when read aloud or typed (0/O, 1/I).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)
