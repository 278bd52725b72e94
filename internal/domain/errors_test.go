package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingComponentsError_Is(t *testing.T) {
	err := fmt.Errorf("start helper: %w", &MissingComponentsError{Files: []string{"WinDivert.dll"}})

	assert.True(t, errors.Is(err, ErrMissingComponents))
	assert.False(t, errors.Is(err, ErrSpawn))

	var missing *MissingComponentsError
	assert.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"WinDivert.dll"}, missing.Files)
	assert.Contains(t, err.Error(), "WinDivert.dll")
}

func TestUserMessage_DistinguishesRemediation(t *testing.T) {
	missing := UserMessage(&MissingComponentsError{Files: []string{"a", "b"}})
	elevation := UserMessage(fmt.Errorf("%w: operation not permitted", ErrElevationRequired))
	denied := UserMessage(ErrAccessDenied)

	assert.Equal(t, "Missing files: a, b", missing)
	assert.Contains(t, elevation, "administrator")
	assert.Contains(t, denied, "Subscription")
	assert.NotEqual(t, missing, elevation)
	assert.NotEqual(t, elevation, denied)
	assert.Empty(t, UserMessage(nil))
}

func TestUserMessage_VerificationErrors(t *testing.T) {
	assert.Equal(t, "You are not subscribed to the channel", UserMessage(ErrNotSubscribed))
	assert.Equal(t, "Invalid code", UserMessage(fmt.Errorf("%w: expired", ErrInvalidCode)))
	assert.Contains(t, UserMessage(fmt.Errorf("%w: dial tcp", ErrNetwork)), "Connection error")
	assert.Contains(t, UserMessage(ErrTimeout), "Connection error")
}

func TestSubscriptionRecord_Valid(t *testing.T) {
	id := int64(42)
	assert.True(t, SubscriptionRecord{}.Valid())
	assert.True(t, SubscriptionRecord{Verified: true, UserID: &id}.Valid())
	assert.True(t, SubscriptionRecord{Verified: false, UserID: &id}.Valid())
	assert.False(t, SubscriptionRecord{Verified: true}.Valid())
}

func TestHelperLayout_RequiredFiles(t *testing.T) {
	files := DefaultHelperLayout().RequiredFiles("/opt/bypass")

	assert.Equal(t, []string{
		filepath.Join("/opt/bypass", "bin", "winws.exe"),
		filepath.Join("/opt/bypass", "bin", "WinDivert.dll"),
		filepath.Join("/opt/bypass", "bin", "WinDivert64.sys"),
		filepath.Join("/opt/bypass", "lists", "list-general.txt"),
	}, files)
}
