// Package credential generates the identifiers and secrets used to authenticate
// whiteboards, developer apps and teachers.
//
// Every value is drawn from crypto/rand, including the public identifiers
// (board_id, class code), so that they cannot be enumerated.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"math/big"

	"github.com/pkg/errors"
)

const (
	BoardIDLength   = 8
	SecretKeyLength = 16
	ClassCodeLength = 6

	AppIDPrefix = "app_"

	appIDBytes      = 16
	appSecretBytes  = 32 // 256 bits
	userTokenBytes  = 48 // 384 bits
	boardTokenBytes = 32

	upperAlphaNum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphaNum      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	realRandReader io.Reader = rand.Reader
	randReader               = realRandReader // mockable

	ErrExhausted = errors.New("could not generate a unique value")
)

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(randReader, max)
		if err != nil {
			return "", errors.Wrap(err, "reading random source")
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(randReader, buf); err != nil {
		return "", errors.Wrap(err, "reading random source")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateBoardID returns an 8-char uppercase alphanumeric board_id.
func GenerateBoardID() (string, error) {
	return randomString(upperAlphaNum, BoardIDLength)
}

// GenerateSecretKey returns a 16-char alphanumeric whiteboard secret_key.
func GenerateSecretKey() (string, error) {
	return randomString(alphaNum, SecretKeyLength)
}

// GenerateBoardCredentials returns a fresh (board_id, secret_key) pair.
// The caller is responsible for checking board_id uniqueness, see GenerateUnique.
func GenerateBoardCredentials() (boardID, secretKey string, err error) {
	if boardID, err = GenerateBoardID(); err != nil {
		return "", "", err
	}
	if secretKey, err = GenerateSecretKey(); err != nil {
		return "", "", err
	}
	return boardID, secretKey, nil
}

// GenerateClassCode returns a 6-char uppercase alphanumeric class code.
func GenerateClassCode() (string, error) {
	return randomString(upperAlphaNum, ClassCodeLength)
}

// GenerateBoardToken returns the capability token of a whiteboard, distinct from its secret_key.
func GenerateBoardToken() (string, error) {
	return randomURLSafe(boardTokenBytes)
}

func GenerateAppID() (string, error) {
	id, err := randomURLSafe(appIDBytes)
	if err != nil {
		return "", err
	}
	return AppIDPrefix + id, nil
}

func GenerateAppSecret() (string, error) {
	return randomURLSafe(appSecretBytes)
}

// GenerateAppCredentials returns a fresh (app_id, app_secret) pair.
func GenerateAppCredentials() (appID, appSecret string, err error) {
	if appID, err = GenerateAppID(); err != nil {
		return "", "", err
	}
	if appSecret, err = GenerateAppSecret(); err != nil {
		return "", "", err
	}
	return appID, appSecret, nil
}

// GenerateUserToken returns an opaque teacher token.
func GenerateUserToken() (string, error) {
	return randomURLSafe(userTokenBytes)
}

// HashToken returns the digest under which a bearer token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Equal compares two credentials in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateUnique calls generate until exists reports the value as free, at most maxAttempts times.
func GenerateUnique(
	ctx context.Context,
	maxAttempts int,
	generate func() (string, error),
	exists func(ctx context.Context, value string) (bool, error),
) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		value, err := generate()
		if err != nil {
			return "", errors.Wrap(err, "generating value")
		}
		taken, err := exists(ctx, value)
		if err != nil {
			return "", errors.Wrap(err, "checking uniqueness")
		}
		if !taken {
			return value, nil
		}
	}
	return "", errors.Wrapf(ErrExhausted, "%d attempts", maxAttempts)
}
