package serialport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResetPulseIsAtLeastTheDocumentedMinimum(t *testing.T) {
	assert.GreaterOrEqual(t, resetPulse, 100*time.Millisecond)
}

func TestBaudRateMatchesDeviceContract(t *testing.T) {
	assert.Equal(t, 115200, baudRate)
}
