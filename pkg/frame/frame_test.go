package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneIsIndependent(t *testing.T) {
	original := PCMFrame{0.1, 0.2, 0.3}
	clone := original.Clone()

	clone[0] = -1.0

	assert.Equal(t, float32(0.1), original[0])
	assert.Equal(t, PCMFrame{-1.0, 0.2, 0.3}, clone)
}

func TestSampleFrames(t *testing.T) {
	f := make(PCMFrame, 960)

	assert.Equal(t, 960, f.SampleFrames(1))
	assert.Equal(t, 480, f.SampleFrames(2))
	assert.Equal(t, 0, f.SampleFrames(0))
	assert.Equal(t, 0, f.SampleFrames(-1))
}
