package util_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lambda-feedback/hotserve/util"
)

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, util.IsProcessAlive(os.Getpid()))
	assert.False(t, util.IsProcessAlive(0))
	assert.False(t, util.IsProcessAlive(-1))
}
