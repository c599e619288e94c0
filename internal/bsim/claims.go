package bsim

import (
	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the claims this system reads from BSIM tokens. The
// wallet_credential claim is a documented contract with the bank's token
// format; its absence is handled gracefully, not as an error.
type IdentityClaims struct {
	Subject          string
	Email            string
	GivenName        string
	FamilyName       string
	Nonce            string
	WalletCredential string
}

// DecodeIdentityClaims reads claims from a BSIM-issued token without verifying
// the signature. The token itself was obtained over the authenticated token
// endpoint; PKCE, state and nonce are validated by the enrollment engine.
func DecodeIdentityClaims(tokenStr string) (*IdentityClaims, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}

	out := &IdentityClaims{}
	out.Subject, _ = claims["sub"].(string)
	out.Email, _ = claims["email"].(string)
	out.GivenName, _ = claims["given_name"].(string)
	out.FamilyName, _ = claims["family_name"].(string)
	out.Nonce, _ = claims["nonce"].(string)
	out.WalletCredential, _ = claims["wallet_credential"].(string)
	return out, nil
}
