package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_Normalize(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, got)

	got, err = PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: " even "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E"}, got)

	for _, bad := range []PortOptions{
		{DataBits: 9},
		{DataBits: 4},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptions_Equal(t *testing.T) {
	assert.True(t, PortOptions{}.Equal(PortOptions{BaudRate: 9600, Parity: "none"}))
	assert.False(t, PortOptions{}.Equal(PortOptions{BaudRate: 19200}))
	assert.False(t, PortOptions{Parity: "x"}.Equal(PortOptions{Parity: "x"}))
}

func TestPortOptions_String(t *testing.T) {
	assert.Equal(t, "9600 8N1", PortOptions{}.String())
	assert.Equal(t, "19200 7O2", PortOptions{BaudRate: 19200, DataBits: 7, StopBits: 2, Parity: "O"}.String())
	assert.Contains(t, PortOptions{DataBits: 12}.String(), "invalid")
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, mode)

	mode, err = PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	_, err = PortOptions{StopBits: 5}.SerialMode()
	assert.Error(t, err)
}
