package domain

import "time"

// SigningKey stores the RS256 keypair used by the token codec.
// PrivateKeyDER is the PKCS#8 encoding of the RSA private key.
type SigningKey struct {
	ID            int64
	KID           string
	PrivateKeyDER []byte
	Algorithm     string
	IsActive      bool
	CreatedAt     time.Time
	RotatedAt     *time.Time
}
