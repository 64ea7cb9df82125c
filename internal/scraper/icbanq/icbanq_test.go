package icbanq

import (
	"errors"
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
<div class="goods_price">
  <table class="price_table"><tbody>
    <tr><td>1</td><td>1,200원</td></tr>
    <tr><td>10</td><td>11,000원</td></tr>
    <tr><td>100개 이상</td><td>100,000원</td></tr>
    <tr><td>문의</td><td>-</td></tr>
  </tbody></table>
</div>
<div class="goods_stock"><span class="qty">재고 3,500 개</span></div>
<div class="goods_delivery"><span class="lead_time"> 2~3일 </span></div>
</body></html>`

func TestParsePricesTable(t *testing.T) {
	tiers, err := New().ParsePrices(doc(t, productPage))
	require.NoError(t, err)
	assert.Equal(t, []models.PriceTier{
		{MinQuantity: 1, UnitPrice: 1200, Currency: "KRW"},
		{MinQuantity: 10, UnitPrice: 1100, Currency: "KRW"},
		{MinQuantity: 100, UnitPrice: 1000, Currency: "KRW"},
	}, tiers)
}

func TestParsePricesHeadlineFallback(t *testing.T) {
	tiers, err := New().ParsePrices(doc(t, `<div id="sale_price">₩ 5,400</div>`))
	require.NoError(t, err)
	assert.Equal(t, []models.PriceTier{{MinQuantity: 1, UnitPrice: 5400, Currency: "KRW"}}, tiers)
}

func TestParsePricesMissingIsHardFailure(t *testing.T) {
	_, err := New().ParsePrices(doc(t, `<html><body><h1>STM32F103</h1></body></html>`))
	assert.True(t, errors.Is(err, scraper.ErrPriceNotFound))
}

func TestParseStock(t *testing.T) {
	p := New()
	assert.Equal(t, models.Stock{Quantity: 3500, Status: models.StockInStock}, p.ParseStock(doc(t, productPage)))
	assert.Equal(t, models.Stock{Quantity: 4, Status: models.StockLow},
		p.ParseStock(doc(t, `<span id="stock_qty">4개</span>`)))
	assert.Equal(t, models.Stock{Quantity: 0, Status: models.StockOutOfStock},
		p.ParseStock(doc(t, `<span id="stock_qty">일시 품절</span>`)))
	assert.Equal(t, scraper.DefaultStock(), p.ParseStock(doc(t, `<p>nothing here</p>`)))
}

func TestParseLeadTime(t *testing.T) {
	p := New()
	assert.Equal(t, "2~3일", p.ParseLeadTime(doc(t, productPage)))
	assert.Equal(t, scraper.UnknownLeadTime, p.ParseLeadTime(doc(t, `<p></p>`)))
}
