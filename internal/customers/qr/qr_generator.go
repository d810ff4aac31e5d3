package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	tokenPrefix  = "dance-customer"
	signatureLen = 16
	imageSize    = 256
)

var ErrInvalidToken = errors.New("invalid member card token")

// CardGenerator renders member card QR codes carrying a signed customer id.
type CardGenerator struct {
	secret []byte
}

func NewCardGenerator(secret string) *CardGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &CardGenerator{secret: hashed[:]}
}

// Token returns "dance-customer:<id>:<signature>".
func (g *CardGenerator) Token(customerID int64) string {
	id := strconv.FormatInt(customerID, 10)
	return fmt.Sprintf("%s:%s:%s", tokenPrefix, id, g.sign(id))
}

// VerifyToken returns the customer id carried by a scanned token.
func (g *CardGenerator) VerifyToken(token string) (int64, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return 0, ErrInvalidToken
	}
	if !hmac.Equal([]byte(parts[2]), []byte(g.sign(parts[1]))) {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// GeneratePNG encodes the customer's token as a PNG QR code.
func (g *CardGenerator) GeneratePNG(customerID int64) ([]byte, error) {
	return qrcode.Encode(g.Token(customerID), qrcode.Medium, imageSize)
}

func (g *CardGenerator) sign(id string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))[:signatureLen]
}
