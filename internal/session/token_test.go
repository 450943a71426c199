package session

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStatus(expiresIn time.Duration) Status {
	now := time.Now()
	return Status{
		ID:        uuid.New(),
		ActorID:   "doctor-7",
		State:     StateActive,
		StartTime: now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService([]byte("test-signing-key"), "carecore")
	st := testStatus(20 * time.Minute)

	token, err := svc.Generate(st)
	require.NoError(t, err)

	id, claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, st.ID, id)
	assert.Equal(t, "doctor-7", claims.ActorID)
	assert.Equal(t, "carecore", claims.Issuer)
	assert.WithinDuration(t, st.ExpiresAt, claims.ExpiresAt.Time, time.Second)
}

func TestTokenService_RejectsExpired(t *testing.T) {
	svc := NewTokenService([]byte("test-signing-key"), "carecore")
	st := testStatus(-time.Minute)

	token, err := svc.Generate(st)
	require.NoError(t, err)

	_, _, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestTokenService_RejectsWrongKey(t *testing.T) {
	minted := NewTokenService([]byte("test-signing-key"), "carecore")
	other := NewTokenService([]byte("another-key"), "carecore")

	token, err := minted.Generate(testStatus(20 * time.Minute))
	require.NoError(t, err)

	_, _, err = other.Validate(token)
	assert.Error(t, err)
}

func TestTokenService_RejectsWrongIssuer(t *testing.T) {
	minted := NewTokenService([]byte("test-signing-key"), "somewhere-else")
	svc := NewTokenService([]byte("test-signing-key"), "carecore")

	token, err := minted.Generate(testStatus(20 * time.Minute))
	require.NoError(t, err)

	_, _, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestTokenService_RejectsTampering(t *testing.T) {
	svc := NewTokenService([]byte("test-signing-key"), "carecore")

	token, err := svc.Generate(testStatus(20 * time.Minute))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	_, _, err = svc.Validate(tampered)
	assert.Error(t, err)
}
