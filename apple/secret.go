package apple

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/authbridge/authbridge/adapter"
)

// clientSecretTTL is the lifetime of a minted client secret.  Apple caps it
// at six months.
const clientSecretTTL = 180 * 24 * time.Hour

// privateKey loads and parses the configured signing key.  Apple issues
// PKCS#8 PEM files containing a P-256 key.
func privateKey(c *Config) (*ecdsa.PrivateKey, error) {
	const op = "apple.privateKey"
	content := []byte(c.KeyContent)
	if len(content) == 0 {
		b, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read key file %q: %v: %w", op, c.KeyFile, err, adapter.ErrInvalidCredentials)
		}
		content = b
	}
	block, _ := pem.Decode(content)
	if block == nil {
		return nil, fmt.Errorf("%s: private key is not PEM encoded: %w", op, adapter.ErrInvalidCredentials)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse private key: %v: %w", op, err, adapter.ErrInvalidCredentials)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: private key is not an ECDSA key: %w", op, adapter.ErrInvalidCredentials)
	}
	return key, nil
}

// clientSecret mints the ES256-signed JWT Apple accepts in place of a static
// client secret.  The kid header names the registered key, the iss claim is
// the team, and the sub claim is the client.
func clientSecret(c *Config, key *ecdsa.PrivateKey, now time.Time) (string, error) {
	const op = "apple.clientSecret"
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", c.KeyID),
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	claims := jwt.Claims{
		Issuer:   c.TeamID,
		Subject:  c.ClientID,
		Audience: jwt.Audience{Audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(clientSecretTTL)),
	}
	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize client secret: %w", op, err)
	}
	return token, nil
}
