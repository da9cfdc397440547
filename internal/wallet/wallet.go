// Package wallet builds mobile-wallet passes for processed receipts and
// signs them as JWTs suitable for an add-to-wallet link.
package wallet

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Pass holds the structured fields rendered onto a wallet pass. Fields may
// carry placeholder values; a pass is still worth issuing for a partially
// structured receipt.
type Pass struct {
	ReceiptID    string
	Vendor       string
	PurchaseDate string
	TotalPrice   string
	Category     string
	LineItems    []string
}

// Issuer issues a signed pass token for a receipt
type Issuer interface {
	Issue(pass Pass) (string, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time { return time.Now() }

// JWTIssuer signs wallet passes with an HMAC issuer key
type JWTIssuer struct {
	issuerID   string
	key        []byte
	timeSource TimeSource
}

// NewJWTIssuer creates a JWTIssuer for the given issuer id and signing key
func NewJWTIssuer(issuerID string, key []byte) (*JWTIssuer, error) {
	if issuerID == "" {
		return nil, fmt.Errorf("issuer id is required")
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	return &JWTIssuer{issuerID: issuerID, key: key, timeSource: defaultTimeSource{}}, nil
}

// NewJWTIssuerWithTimeSource creates a JWTIssuer with a custom time source
// for testing
func NewJWTIssuerWithTimeSource(issuerID string, key []byte, ts TimeSource) (*JWTIssuer, error) {
	issuer, err := NewJWTIssuer(issuerID, key)
	if err != nil {
		return nil, err
	}
	issuer.timeSource = ts
	return issuer, nil
}

// Issue builds a generic pass object for the receipt and returns it as a
// signed JWT
func (j *JWTIssuer) Issue(pass Pass) (string, error) {
	if pass.ReceiptID == "" {
		return "", fmt.Errorf("receipt id is required")
	}

	objectID := fmt.Sprintf("%s.%s", j.issuerID, pass.ReceiptID)
	claims := jwt.MapClaims{
		"iss": j.issuerID,
		"aud": "google",
		"typ": "savetowallet",
		"iat": j.timeSource.Now().Unix(),
		"payload": map[string]any{
			"genericObjects": []map[string]any{
				{
					"id":    objectID,
					"state": "ACTIVE",
					"textModulesData": []map[string]string{
						{"header": "Vendor", "body": pass.Vendor},
						{"header": "Total", "body": pass.TotalPrice},
						{"header": "Date", "body": pass.PurchaseDate},
						{"header": "Category", "body": pass.Category},
					},
					"barcode": map[string]string{
						"type":  "QR_CODE",
						"value": objectID,
					},
				},
			},
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
	if err != nil {
		return "", fmt.Errorf("signing pass: %w", err)
	}
	return token, nil
}
