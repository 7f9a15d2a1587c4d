/**
 * @description
 * Request signature verification. A PSP signs every transfer request with
 * its RS256 key: the `signature` field carries a compact JWS whose claims
 * bind the idempotency key, both VPAs, and the amount. Verification checks
 * the signature against the PSP directory's JWKS and then checks that the
 * signed claims match the request, so a captured signature cannot be
 * replayed onto a different transfer.
 */

package api

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/velopay/switch-service/internal/domain"
)

// JWSVerifier verifies transfer request signatures against a JWKS endpoint.
// It implements app.SignatureVerifier.
type JWSVerifier struct {
	jwksURL string
}

// NewJWSVerifier creates a verifier backed by the given JWKS endpoint.
func NewJWSVerifier(jwksURL string) *JWSVerifier {
	return &JWSVerifier{jwksURL: jwksURL}
}

// Verify checks the request's signature and that the signed claims match
// the request body.
func (v *JWSVerifier) Verify(req domain.TransferRequest) error {
	if req.Signature == "" {
		return errors.New("signature is required")
	}

	token, err := jwt.Parse(req.Signature, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid not found in signature header")
		}
		return getPublicKeyFromJWKS(v.jwksURL, kid)
	})
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if !token.Valid {
		return errors.New("signature is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("signature carries no claims")
	}
	if claimed, _ := claims["idempotency_key"].(string); claimed != req.IdempotencyKey {
		return errors.New("signed idempotency key does not match request")
	}
	if claimed, _ := claims["payer_vpa"].(string); claimed != req.PayerVPA {
		return errors.New("signed payer vpa does not match request")
	}
	if claimed, _ := claims["payee_vpa"].(string); claimed != req.PayeeVPA {
		return errors.New("signed payee vpa does not match request")
	}
	if claimed, _ := claims["amount"].(float64); int64(claimed) != req.Amount {
		return errors.New("signed amount does not match request")
	}
	return nil
}
