package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsBadArguments(t *testing.T) {
	_, err := Open("", 115200, time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device name")

	_, err = Open("/dev/ttyUSB0", 115200, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read timeout")
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open("/nonexistent/tty-chatlog", 115200, 10*time.Millisecond)
	assert.Error(t, err)
}
