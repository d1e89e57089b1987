package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal { v := d(s); return &v }

func fp(v float64) *float64 { return &v }

func baseRequest() Request {
	return Request{Instrument: "EUR_USD", AccountCurrency: "USD", Balance: d("10000"), Entry: d("1.1000"), Stop: d("1.0950")}
}

func TestSizeRiskBased(t *testing.T) {
	res, err := NewSizer(Config{}).Size(baseRequest())
	require.NoError(t, err)
	assert.Equal(t, "40000", res.Units.String())
	assert.Equal(t, "risk", res.Breakdown.Binding)
	assert.True(t, res.Leverage.Equal(d("4.4")))
	assert.True(t, res.Breakdown.StopPips.Equal(d("50")))
}

func TestKellyCap(t *testing.T) {
	for _, k := range []string{"0.30", "0.50"} {
		req := baseRequest()
		req.Kelly = dp(k)
		res, err := NewSizer(Config{}).Size(req)
		require.NoError(t, err)
		require.NotNil(t, res.Breakdown.Kelly)
		assert.True(t, res.Breakdown.Kelly.Equal(KellyCap), k)
		assert.Equal(t, "10000", res.Units.String())
	}
	req := baseRequest()
	req.Kelly = dp("0.10")
	res, err := NewSizer(Config{}).Size(req)
	require.NoError(t, err)
	assert.Equal(t, "4000", res.Units.String())
}

func TestGSSIReducesRiskUnits(t *testing.T) {
	req := baseRequest()
	req.GSSI = fp(0.85)
	res, err := NewSizer(Config{}).Size(req)
	require.NoError(t, err)
	assert.Equal(t, "20000", res.Units.String())
	assert.True(t, res.Breakdown.LeverageCeiling.Equal(d("25")))
}

func TestLeverageBound(t *testing.T) {
	req := baseRequest()
	req.Stop = d("1.0999")
	res, err := NewSizer(Config{}).Size(req)
	require.NoError(t, err)
	assert.Equal(t, "notional", res.Breakdown.Binding)
	assert.Equal(t, "454545", res.Units.String())
	assert.True(t, res.Leverage.LessThanOrEqual(d("50")))

	req.GSSI = fp(0.8)
	res, err = NewSizer(Config{MaxLeverage: 80}).Size(req)
	require.NoError(t, err)
	assert.Equal(t, "227272", res.Units.String())
	assert.True(t, res.Leverage.LessThanOrEqual(d("25")))
}

func TestSizeRejectsBadInput(t *testing.T) {
	s := NewSizer(Config{})
	req := baseRequest()
	req.Stop = req.Entry
	_, err := s.Size(req)
	assert.ErrorIs(t, err, ErrZeroStopDistance)

	req = baseRequest()
	req.Balance = decimal.Zero
	_, err = s.Size(req)
	assert.ErrorIs(t, err, ErrInvalidBalance)

	req = baseRequest()
	req.Entry = d("-1")
	_, err = s.Size(req)
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestUnitsNeverNegative(t *testing.T) {
	req := baseRequest()
	req.Kelly = dp("-0.2")
	res, err := NewSizer(Config{}).Size(req)
	require.NoError(t, err)
	assert.True(t, res.Units.IsZero())
}

func TestTradeBank(t *testing.T) {
	nav := d("10000")
	assert.Equal(t, "7000.00", TradeBank(nav, d("0.01")).StringFixed(2))
	assert.Equal(t, "3000.00", TradeBank(nav, d("0.03")).StringFixed(2))
	assert.Equal(t, "5333.33", TradeBank(nav, d("0.04")).StringFixed(2))
	assert.Equal(t, "10000.00", TradeBank(nav, d("0.06")).StringFixed(2))
}

func TestHouseMoneySizing(t *testing.T) {
	req := baseRequest()
	req.DayProfitPct = d("0.01")
	res, err := NewSizer(Config{HouseMoney: true}).Size(req)
	require.NoError(t, err)
	assert.Equal(t, "28000", res.Units.String())
}

func TestQuantileATR(t *testing.T) {
	q := NewQuantileATR(0)
	for i := 1; i <= 9; i++ {
		w := q.Width("EUR_USD", decimal.NewFromInt(int64(i)))
		assert.True(t, w.Equal(decimal.NewFromInt(int64(i)).Mul(d("1.5"))))
	}
	w := q.Width("EUR_USD", decimal.NewFromInt(10))
	assert.True(t, w.Equal(d("9.6")), w.String())

	// instruments keep separate windows
	assert.True(t, q.Width("GBP_USD", d("2")).Equal(d("3")))
}

func TestAddToWinnersBoundary(t *testing.T) {
	risk := d("0.0050")
	a := NewAddToWinners()
	c := a.Check("p1", d("0.70"), d("0.25"), risk, true)
	assert.True(t, c.Eligible)
	assert.Equal(t, Add1, c.State)
	require.NotNil(t, c.Breakeven)
	assert.True(t, c.Breakeven.Equal(d("0.00175")))

	b := NewAddToWinners()
	c = b.Check("p2", d("0.69"), d("0.20"), risk, true)
	assert.False(t, c.Eligible)
	assert.Equal(t, AddInitial, c.State)

	c = b.Check("p2", d("0.80"), d("0.26"), risk, true)
	assert.False(t, c.Eligible)
	assert.Equal(t, AddInitial, b.State("p2"))
}

func TestAddToWinnersProgression(t *testing.T) {
	a := NewAddToWinners()
	risk := d("1")
	assert.Equal(t, Add1, a.Check("p", d("0.7"), decimal.Zero, risk, true).State)
	// no further progress since the last add
	assert.False(t, a.Check("p", d("1.0"), decimal.Zero, risk, true).Advanced())
	assert.Equal(t, Add2, a.Check("p", d("1.4"), decimal.Zero, risk, true).State)
	assert.Equal(t, AddMaxed, a.Check("p", d("2.1"), decimal.Zero, risk, true).State)
	c := a.Check("p", d("3.0"), decimal.Zero, risk, true)
	assert.Equal(t, AddMaxed, c.State)
	assert.Nil(t, c.Breakeven)

}

func TestAddToWinnersDisabled(t *testing.T) {
	a := NewAddToWinners()
	c := a.Check("p", d("1.0"), decimal.Zero, d("1"), false)
	assert.False(t, c.Eligible)
	assert.Equal(t, ReasonAddsDisabled, c.Reason)
	assert.Equal(t, AddInitial, a.State("p"))
}

func TestAddToWinnersObserve(t *testing.T) {
	a := NewAddToWinners()
	pos := market.Position{ID: "x", Side: market.SideLong, EntryPrice: d("1.1000"), StopLoss: d("1.0900"), CurrentPrice: d("1.1080")}
	c := a.Observe(pos, true)
	assert.Equal(t, Add1, c.State)

	pos.CurrentPrice = d("1.1200")
	a.Observe(pos, true)
	pos.CurrentPrice = d("1.1150")
	c = a.Observe(pos, true)
	assert.True(t, c.Drawdown.Equal(d("0.5")))
	assert.False(t, c.Eligible)
}

func TestAddToWinnersPruneRestartsReusedID(t *testing.T) {
	a := NewAddToWinners()
	pos := market.Position{ID: "x", Instrument: "EUR_USD", Side: market.SideLong,
		EntryPrice: d("1.1000"), StopLoss: d("1.0900"), CurrentPrice: d("1.1080")}
	require.Equal(t, Add1, a.Observe(pos, true).State)
	other := market.Position{ID: "y", Instrument: "GBP_USD", Side: market.SideLong,
		EntryPrice: d("1.2500"), StopLoss: d("1.2400"), CurrentPrice: d("1.2580")}
	require.Equal(t, Add1, a.Observe(other, true).State)

	a.Prune("EUR_USD", nil)
	assert.Equal(t, AddInitial, a.State("x"))
	assert.Equal(t, Add1, a.State("y"))

	pos.CurrentPrice = d("1.1050")
	c := a.Observe(pos, true)
	assert.Equal(t, AddInitial, c.From)
	assert.True(t, c.Drawdown.IsZero())
}
