package tnc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkhz/bttnc/errorkinds"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 38:d2:00:01:11:fe ")
	require.NoError(t, err)
	assert.Equal(t, Address("38:D2:00:01:11:FE"), addr)

	for _, invalid := range []string{"", "38:D2:00:01:11", "38-D2-00-01-11-FE", "38:D2:00:01:11:FG", "3800.0111.11FE"} {
		_, err := ParseAddress(invalid)
		assert.ErrorIs(t, err, errorkinds.ErrInvalidAddress, invalid)
	}
}

func TestChannelNames(t *testing.T) {
	c := Channel(2)

	assert.Equal(t, "/dev/rfcomm2", c.Path())
	assert.Equal(t, "ax2", c.Interface())
	assert.Equal(t, "tnc2", c.Port())

	parsed, err := ParseChannel("2")
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	_, err = ParseChannel("-1")
	assert.Error(t, err)
}

func TestPairedState(t *testing.T) {
	assert.Equal(t, "Paired", Paired.String())
	assert.Equal(t, "Not Paired", NotPaired.String())
	assert.Equal(t, "Unknown", PairedUnknown.String())
	assert.Equal(t, Paired, PairedStateOf(true))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "interface ax0 is up", Outcome{Kind: LinkUp, Interface: "ax0"}.String())
	assert.Equal(t, "serial channel /dev/rfcomm1 is ready", Outcome{Kind: SerialOnly, Channel: 1}.String())
	assert.Equal(t, "38:D2:00:01:11:FE", Device{Address: "38:D2:00:01:11:FE"}.DisplayName())
}
