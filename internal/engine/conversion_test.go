package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/models"
	apperrors "tai-ledger-api/pkg/errors"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		from     models.Currency
		to       models.Currency
		expected string
		kind     apperrors.Kind
	}{
		{name: "tai to usdt", amount: "100", from: models.CurrencyTAI, to: models.CurrencyUSDT, expected: "60"},
		{name: "usdt to tai", amount: "60", from: models.CurrencyUSDT, to: models.CurrencyTAI, expected: "100"},
		{name: "usdt to tai truncates", amount: "1", from: models.CurrencyUSDT, to: models.CurrencyTAI, expected: "1.66666666"},
		{name: "tai to usdt truncates", amount: "0.00000001", from: models.CurrencyTAI, to: models.CurrencyUSDT, expected: "0"},
		{name: "same currency", amount: "1", from: models.CurrencyTAI, to: models.CurrencyTAI, kind: apperrors.KindInvalidOperation},
		{name: "unknown currency", amount: "1", from: models.Currency("BTC"), to: models.CurrencyTAI, kind: apperrors.KindInvalidOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Quote(dec(tt.amount), tt.from, tt.to)
			if tt.kind != "" {
				assertKind(t, err, tt.kind)
				return
			}
			require.NoError(t, err)
			assertDecimal(t, tt.expected, got)
		})
	}
}

func TestQuoteRoundTripNeverGains(t *testing.T) {
	amounts := []string{"1", "0.1", "0.33333333", "7", "12.5", "999999.99999999", "0.00000003"}
	for _, a := range amounts {
		amount := dec(a)

		tai, err := Quote(amount, models.CurrencyUSDT, models.CurrencyTAI)
		require.NoError(t, err)
		back, err := Quote(tai, models.CurrencyTAI, models.CurrencyUSDT)
		require.NoError(t, err)
		assert.True(t, back.LessThanOrEqual(amount), "usdt round trip of %s gained: %s", a, back)

		usdt, err := Quote(amount, models.CurrencyTAI, models.CurrencyUSDT)
		require.NoError(t, err)
		again, err := Quote(usdt, models.CurrencyUSDT, models.CurrencyTAI)
		require.NoError(t, err)
		assert.True(t, again.LessThanOrEqual(amount), "tai round trip of %s gained: %s", a, again)
	}
}

func TestConvert(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		conversions := NewConversionEngine(h.ledger)
		acc := h.account(t, "uma")
		h.fund(t, acc.ID, "100", "0")

		result, err := conversions.Convert(h.ctx, acc.ID, dec("100"), models.CurrencyTAI, models.CurrencyUSDT)
		require.NoError(t, err)
		assertDecimal(t, "60", result.Converted)
		assert.True(t, result.Account.TaiBalance.IsZero())
		assertDecimal(t, "60", result.Account.UsdtBalance)

		rows := h.rows(t, acc.ID)
		require.Len(t, rows, 1)
		assert.Equal(t, models.TransactionTypeConversion, rows[0].Type)
		assert.Equal(t, models.CurrencyTAI, rows[0].Currency)
		assertDecimal(t, "100", rows[0].Amount)
		assert.Equal(t, "Converted 100 TAI to 60.00 USDT", rows[0].Description)

		result, err = conversions.Convert(h.ctx, acc.ID, dec("60"), models.CurrencyUSDT, models.CurrencyTAI)
		require.NoError(t, err)
		assertDecimal(t, "100", result.Account.TaiBalance)
		assert.True(t, result.Account.UsdtBalance.IsZero())
	})
}

func TestConvertRoundTripOnLedger(t *testing.T) {
	eachBackend(t, func(t *testing.T, h *harness) {
		conversions := NewConversionEngine(h.ledger)
		acc := h.account(t, "vera")
		h.fund(t, acc.ID, "0", "1")

		first, err := conversions.Convert(h.ctx, acc.ID, dec("1"), models.CurrencyUSDT, models.CurrencyTAI)
		require.NoError(t, err)
		_, err = conversions.Convert(h.ctx, acc.ID, first.Converted, models.CurrencyTAI, models.CurrencyUSDT)
		require.NoError(t, err)

		reloaded := h.reload(t, acc.ID)
		assert.True(t, reloaded.TaiBalance.IsZero())
		assert.True(t, reloaded.UsdtBalance.LessThanOrEqual(dec("1")))
		assertDecimal(t, "0.99999999", reloaded.UsdtBalance)
	})
}

func TestConvertRejections(t *testing.T) {
	h := newHarness(t, backends[0].newStore)
	conversions := NewConversionEngine(h.ledger)
	acc := h.account(t, "walt")
	h.fund(t, acc.ID, "10", "0")

	tests := []struct {
		name   string
		amount string
		from   models.Currency
		to     models.Currency
		kind   apperrors.Kind
	}{
		{name: "zero amount", amount: "0", from: models.CurrencyTAI, to: models.CurrencyUSDT, kind: apperrors.KindInvalidOperation},
		{name: "negative amount", amount: "-1", from: models.CurrencyTAI, to: models.CurrencyUSDT, kind: apperrors.KindInvalidOperation},
		{name: "same currency", amount: "1", from: models.CurrencyUSDT, to: models.CurrencyUSDT, kind: apperrors.KindInvalidOperation},
		{name: "unknown currency", amount: "1", from: models.CurrencyTAI, to: models.Currency("EUR"), kind: apperrors.KindInvalidOperation},
		{name: "dust", amount: "0.00000001", from: models.CurrencyTAI, to: models.CurrencyUSDT, kind: apperrors.KindInvalidOperation},
		{name: "insufficient", amount: "10.5", from: models.CurrencyTAI, to: models.CurrencyUSDT, kind: apperrors.KindInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conversions.Convert(h.ctx, acc.ID, dec(tt.amount), tt.from, tt.to)
			assertKind(t, err, tt.kind)
		})
	}

	reloaded := h.reload(t, acc.ID)
	assertDecimal(t, "10", reloaded.TaiBalance)
	assert.True(t, reloaded.UsdtBalance.IsZero())
	assert.Empty(t, h.rows(t, acc.ID))
}
