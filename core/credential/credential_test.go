package credential

import (
	"bytes"
	"context"
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerators(t *testing.T) {
	tests := []struct {
		name    string
		gen     func() (string, error)
		pattern *regexp.Regexp
	}{
		{name: "board_id", gen: GenerateBoardID, pattern: regexp.MustCompile(`^[A-Z0-9]{8}$`)},
		{name: "secret_key", gen: GenerateSecretKey, pattern: regexp.MustCompile(`^[A-Za-z0-9]{16}$`)},
		{name: "class code", gen: GenerateClassCode, pattern: regexp.MustCompile(`^[A-Z0-9]{6}$`)},
		{name: "app_id", gen: GenerateAppID, pattern: regexp.MustCompile(`^app_[A-Za-z0-9_-]{22}$`)},
		{name: "app_secret", gen: GenerateAppSecret, pattern: regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)},
		{name: "user token", gen: GenerateUserToken, pattern: regexp.MustCompile(`^[A-Za-z0-9_-]{64}$`)},
		{name: "board token", gen: GenerateBoardToken, pattern: regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(map[string]bool)
			for i := 0; i < 50; i++ {
				v, err := tt.gen()
				require.NoError(t, err)
				assert.Regexp(t, tt.pattern, v)
				seen[v] = true
			}
			assert.Greater(t, len(seen), 45, "values should not repeat")
		})
	}
}

func TestSecretsEntropy(t *testing.T) {
	secret, err := GenerateAppSecret()
	require.NoError(t, err)
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw)*8, 128)

	token, err := GenerateUserToken()
	require.NoError(t, err)
	raw, err = base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw)*8, 256)
}

func TestGenerateBoardCredentials(t *testing.T) {
	boardID, secretKey, err := GenerateBoardCredentials()
	require.NoError(t, err)
	assert.Len(t, boardID, BoardIDLength)
	assert.Len(t, secretKey, SecretKeyLength)
	assert.Equal(t, strings.ToUpper(boardID), boardID)
}

func TestRandomSourceFailure(t *testing.T) {
	randReader = bytes.NewReader(nil)
	defer func() { randReader = realRandReader }()

	_, err := GenerateSecretKey()
	assert.Error(t, err)
	_, err = GenerateUserToken()
	assert.Error(t, err)
}

func TestHashTokenAndEqual(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.True(t, Equal("secret", "secret"))
	assert.False(t, Equal("secret", "Secret"))
	assert.False(t, Equal("secret", ""))
}

func TestGenerateUnique(t *testing.T) {
	ctx := context.Background()
	seq := func(values ...string) func() (string, error) {
		i := 0
		return func() (string, error) {
			v := values[i%len(values)]
			i++
			return v, nil
		}
	}
	taken := func(used ...string) func(context.Context, string) (bool, error) {
		return func(_ context.Context, v string) (bool, error) {
			for _, u := range used {
				if u == v {
					return true, nil
				}
			}
			return false, nil
		}
	}
	errCheck := errors.New("db down")

	tests := []struct {
		name     string
		attempts int
		gen      func() (string, error)
		exists   func(context.Context, string) (bool, error)
		want     string
		wantErr  error
	}{
		{name: "first free", attempts: 3, gen: seq("AAA"), exists: taken(), want: "AAA"},
		{name: "retry on collision", attempts: 3, gen: seq("AAA", "BBB"), exists: taken("AAA"), want: "BBB"},
		{name: "exhausted", attempts: 3, gen: seq("AAA"), exists: taken("AAA"), wantErr: ErrExhausted},
		{name: "zero attempts still tries once", attempts: 0, gen: seq("AAA"), exists: taken(), want: "AAA"},
		{
			name: "check failure", attempts: 3, gen: seq("AAA"),
			exists:  func(context.Context, string) (bool, error) { return false, errCheck },
			wantErr: errCheck,
		},
		{
			name: "generator failure", attempts: 3,
			gen:     func() (string, error) { return "", errCheck },
			exists:  taken(),
			wantErr: errCheck,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateUnique(ctx, tt.attempts, tt.gen, tt.exists)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
