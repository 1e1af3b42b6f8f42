package errorkinds

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("org.bluez.Error.AuthenticationFailed")
	err := New(ErrAuthenticationFailed, cause)

	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrPairingRejected)
	assert.Equal(t, "pairing authentication failed: org.bluez.Error.AuthenticationFailed", err.Error())
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("connect: %w", Newf(ErrBindExhausted, "%d attempts", 3))

	assert.Equal(t, ErrBindExhausted, Kind(err))
	assert.NotEmpty(t, Hint(err))
	assert.True(t, Retryable(err))
}

func TestNoKind(t *testing.T) {
	err := errors.New("plain")

	assert.Nil(t, Kind(err))
	assert.Empty(t, Hint(err))
	assert.Equal(t, "callsign is required", New(ErrCallsignRequired, nil).Error())
}

func TestRadioNeedsRestartIsNotRetryable(t *testing.T) {
	assert.False(t, Retryable(New(ErrRadioNeedsRestart, nil)))
	assert.False(t, Retryable(New(ErrNotPrivileged, nil)))
	assert.True(t, Retryable(New(ErrDeviceNotDiscovered, nil)))
}

func TestEveryKindHasHint(t *testing.T) {
	for _, kind := range []error{
		ErrDeviceNotDiscovered, ErrDeviceUnavailable, ErrTrustRejected,
		ErrAuthenticationFailed, ErrPairingRejected, ErrRadioNeedsRestart,
		ErrBindExhausted, ErrInterfaceNotCreated, ErrCallsignRequired,
		ErrInvalidCallsign, ErrMissingPrerequisites, ErrNotPrivileged, ErrInvalidAddress,
	} {
		assert.NotEmpty(t, Hint(New(kind, nil)), kind.Error())
	}
}
