package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPass(t *testing.T) {
	t.Run("creates pass with initial tag", func(t *testing.T) {
		before := time.Now().Unix()
		pass, err := NewPass("pass.com.example.coupon", "SN-001", "tmpl-1", "secret-token")
		require.NoError(t, err)

		assert.Equal(t, "pass.com.example.coupon", pass.PassTypeID)
		assert.Equal(t, "SN-001", pass.SerialNumber)
		assert.Equal(t, "tmpl-1", pass.TemplateID)
		assert.Equal(t, "secret-token", pass.AuthToken)
		assert.GreaterOrEqual(t, pass.UpdateTag, before)
	})

	t.Run("trims whitespace from identifiers", func(t *testing.T) {
		pass, err := NewPass("  pass.com.example  ", " SN-1 ", "", " token ")
		require.NoError(t, err)
		assert.Equal(t, "pass.com.example", pass.PassTypeID)
		assert.Equal(t, "SN-1", pass.SerialNumber)
		assert.Equal(t, "token", pass.AuthToken)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		_, err := NewPass("", "SN-1", "tmpl", "token")
		assert.ErrorIs(t, err, ErrEmptyPassTypeID)

		_, err = NewPass("pass.com.example", "", "tmpl", "token")
		assert.ErrorIs(t, err, ErrEmptySerialNumber)

		_, err = NewPass("pass.com.example", "SN-1", "tmpl", "   ")
		assert.ErrorIs(t, err, ErrEmptyAuthToken)
	})
}

func TestNextUpdateTag(t *testing.T) {
	t.Run("uses wall clock when it is ahead", func(t *testing.T) {
		now := time.Unix(2000, 0)
		assert.Equal(t, int64(2000), NextUpdateTag(1500, now))
	})

	t.Run("strictly increases within the same second", func(t *testing.T) {
		now := time.Unix(2000, 0)
		tag := NextUpdateTag(2000, now)
		assert.Equal(t, int64(2001), tag)

		// A second change in the same second keeps climbing.
		assert.Equal(t, int64(2002), NextUpdateTag(tag, now))
	})

	t.Run("never moves backwards", func(t *testing.T) {
		now := time.Unix(1000, 0)
		assert.Equal(t, int64(5001), NextUpdateTag(5000, now))
	})
}

func TestUpdatedSince(t *testing.T) {
	pass := &Pass{UpdateTag: 100}

	assert.True(t, pass.UpdatedSince(99))
	assert.False(t, pass.UpdatedSince(100), "equal tag means the device already has this version")
	assert.False(t, pass.UpdatedSince(101))
}

func TestParseUpdateTag(t *testing.T) {
	t.Run("parses valid tags", func(t *testing.T) {
		tag, err := ParseUpdateTag("1700000000")
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), tag)

		tag, err = ParseUpdateTag(" 0 ")
		require.NoError(t, err)
		assert.Equal(t, int64(0), tag)
	})

	t.Run("rejects malformed tags", func(t *testing.T) {
		for _, input := range []string{"", "abc", "-5", "12.5", "1e9"} {
			_, err := ParseUpdateTag(input)
			assert.ErrorIs(t, err, ErrInvalidUpdateTag, "input %q", input)
		}
	})

	t.Run("round trips through FormatUpdateTag", func(t *testing.T) {
		tag, err := ParseUpdateTag(FormatUpdateTag(1234567890))
		require.NoError(t, err)
		assert.Equal(t, int64(1234567890), tag)
	})
}

func TestNewDevice(t *testing.T) {
	t.Run("creates device", func(t *testing.T) {
		device, err := NewDevice("device-1", "push-token-abc")
		require.NoError(t, err)
		assert.Equal(t, "device-1", device.LibraryID)
		assert.Equal(t, "push-token-abc", device.PushToken)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		_, err := NewDevice("", "token")
		assert.ErrorIs(t, err, ErrEmptyDeviceID)

		_, err = NewDevice("device-1", "  ")
		assert.ErrorIs(t, err, ErrEmptyPushToken)
	})
}
