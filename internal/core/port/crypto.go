package port

// TokenMinter produces opaque, unguessable scan tokens for QR encoding.
type TokenMinter interface {
	Mint() (string, error)
}
