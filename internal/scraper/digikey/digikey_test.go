package digikey

import (
	"strings"
	"testing"

	"PriceWatch/internal/models"
	"PriceWatch/internal/scraper"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d
}

const productPage = `<html><body>
<table data-testid="pricing-table">
  <thead><tr><th>Quantity</th><th>Unit Price</th><th>Ext Price</th></tr></thead>
  <tbody>
    <tr><td>1</td><td>$2.10000</td><td>$2.10</td></tr>
    <tr><td>25</td><td>$1.80000</td><td>$45.00</td></tr>
  </tbody>
</table>
<div data-testid="qty-available-messages">In-Stock: 7</div>
<div data-testid="std-lead-time">8 Weeks</div>
</body></html>`

func TestParsePricesTable(t *testing.T) {
	tiers, err := New().ParsePrices(doc(t, productPage))
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.InDelta(t, 2.10, tiers[0].UnitPrice, 1e-9)
	assert.Equal(t, 25, tiers[1].MinQuantity)
	assert.InDelta(t, 1.80, tiers[1].UnitPrice, 1e-9)
}

func TestParsePricesHeadlineFallback(t *testing.T) {
	tiers, err := New().ParsePrices(doc(t, `<span data-testid="unit-price">$3.25</span>`))
	require.NoError(t, err)
	assert.Equal(t, []models.PriceTier{{MinQuantity: 1, UnitPrice: 3.25, Currency: "USD"}}, tiers)
}

func TestParsePricesMissingIsSoftFailure(t *testing.T) {
	tiers, err := New().ParsePrices(doc(t, `<p>no pricing</p>`))
	require.NoError(t, err)
	assert.Equal(t, scraper.SoftPriceFallback("USD"), tiers)
}

func TestParseStockAndLeadTime(t *testing.T) {
	p := New()
	d := doc(t, productPage)
	assert.Equal(t, models.Stock{Quantity: 7, Status: models.StockLow}, p.ParseStock(d))
	assert.Equal(t, "8 Weeks", p.ParseLeadTime(d))
	assert.Equal(t, models.Stock{Quantity: 0, Status: models.StockOutOfStock},
		p.ParseStock(doc(t, `<div id="quantityAvailable">Obsolete - not stocked</div>`)))
	assert.Equal(t, scraper.UnknownLeadTime, p.ParseLeadTime(doc(t, `<p></p>`)))
}
