package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLayoutChange_IdenticalPathNotChanged(t *testing.T) {
	path := squarePath()
	assert.False(t, DetectLayoutChange(path, path, DefaultLayoutChangeConfig()))
}

func TestDetectLayoutChange_MajorExpansionDetected(t *testing.T) {
	existing := squarePath()
	bigger := Path{{0, 0}, {100, 0}, {100, 100}, {0, 100}, {0, 0}}
	assert.True(t, DetectLayoutChange(existing, bigger, DefaultLayoutChangeConfig()))
}

func TestDetectLayoutChange_MinorNoiseNotChanged(t *testing.T) {
	existing := squarePath()
	noisy := Path{{0.1, 0}, {10, 0.1}, {10, 10}, {0, 10}, {0.1, 0}}
	assert.False(t, DetectLayoutChange(existing, noisy, DefaultLayoutChangeConfig()), "minor GPS noise must not trigger a false positive")
}

func TestDetectLayoutChange_NoExistingBaseline(t *testing.T) {
	assert.False(t, DetectLayoutChange(nil, squarePath(), DefaultLayoutChangeConfig()))
}
