package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsMaxThreadsAboveRegistryLimit(t *testing.T) {
	c := Default()
	c.MaxThreads = MaxThreadsLimit + 1
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsMaxThreadsAtRegistryLimit(t *testing.T) {
	c := Default()
	c.MaxThreads = MaxThreadsLimit
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsZeroMaxThreads(t *testing.T) {
	c := Default()
	c.MaxThreads = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsNonPowerOfTwoRingCapacity(t *testing.T) {
	c := Default()
	c.RingCapacityRecords = 3
	assert.Error(t, c.Validate())
}

func TestValidateRejectsStackBytesAboveMax(t *testing.T) {
	c := Default()
	c.StackBytes = MaxStackBytes + 1
	assert.Error(t, c.Validate())
}
