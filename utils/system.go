package utils

import (
	"strconv"

	"PriceWatch/internal/logger"

	"github.com/shirou/gopsutil/v3/cpu"
)

const maxWorkers = 8

// GetOptimalWorkerCount determines the product pool size from config and system resources.
// A positive integer is used as is; "auto" derives it from the logical core count.
func GetOptimalWorkerCount(configValue string, log logger.Logger) int {
	if manual, err := strconv.Atoi(configValue); err == nil && manual > 0 {
		log.Info("Using configured number of workers", logger.Int("workers", manual))
		return manual
	}

	if configValue != "auto" {
		log.Warn("Invalid workers value, defaulting to auto", logger.String("value", configValue))
	}

	cpuCores, err := cpu.Counts(true)
	if err != nil {
		log.Warn("Could not detect CPU cores, falling back to one worker", logger.Error(err))
		return 1
	}

	// Each worker holds a browser page; half the cores leaves room for Chrome itself.
	optimal := cpuCores / 2
	if optimal < 1 {
		optimal = 1
	}
	if optimal > maxWorkers {
		optimal = maxWorkers
	}

	log.Info("Derived number of workers from CPU cores",
		logger.Int("cores", cpuCores), logger.Int("workers", optimal))
	return optimal
}
