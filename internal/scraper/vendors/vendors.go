// Package vendors holds the static vendor registry.
package vendors

import (
	"PriceWatch/internal/scraper"
	"PriceWatch/internal/scraper/digikey"
	"PriceWatch/internal/scraper/icbanq"
	"PriceWatch/internal/scraper/mouser"
)

// Default returns the registry of every supported vendor.
func Default() *scraper.Registry {
	return scraper.NewRegistry(
		icbanq.New(),
		mouser.New(),
		digikey.New(),
	)
}
