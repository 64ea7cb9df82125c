package utils

import (
	"testing"

	"PriceWatch/internal/logger"

	"github.com/stretchr/testify/assert"
)

func TestGetOptimalWorkerCount(t *testing.T) {
	log := logger.NewNop()

	assert.Equal(t, 3, GetOptimalWorkerCount("3", log))

	auto := GetOptimalWorkerCount("auto", log)
	assert.GreaterOrEqual(t, auto, 1)
	assert.LessOrEqual(t, auto, maxWorkers)

	assert.GreaterOrEqual(t, GetOptimalWorkerCount("lots", log), 1)
}
