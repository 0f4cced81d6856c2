package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() RawOrderContext {
	return RawOrderContext{
		Symbol:    "BTCUSDT",
		Side:      "buy",
		OrderType: "market",
		Qty:       1.5,
		TsMs:      1000.0,
	}
}

func TestValidate_HappyPathMarketOrder(t *testing.T) {
	oc, verr := Validate(validRaw())
	require.Nil(t, verr)
	require.NotNil(t, oc)
	assert.Equal(t, "BTCUSDT", oc.Symbol)
	assert.Equal(t, "isolated", oc.AccountMode)
	assert.Equal(t, 10.0, oc.MaxSlippageBps)
	assert.Equal(t, "normal", oc.Regime)
}

func TestValidate_MissingRequiredFieldAlwaysPrefixesInvalidSchema(t *testing.T) {
	raw := validRaw()
	raw.Symbol = nil
	_, verr := Validate(raw)
	require.NotNil(t, verr)
	assert.Equal(t, "invalid_schema", verr.ReasonCodes[0])
	assert.Contains(t, verr.ReasonCodes, "missing_required_field")
}

func TestValidate_NonPositiveQtyIsInvalidFieldType(t *testing.T) {
	raw := validRaw()
	raw.Qty = -1.0
	_, verr := Validate(raw)
	require.NotNil(t, verr)
	assert.Equal(t, "invalid_schema", verr.ReasonCodes[0])
	assert.Contains(t, verr.ReasonCodes, "invalid_field_type")
}

func TestValidate_UnknownSideIsInvalidEnum(t *testing.T) {
	raw := validRaw()
	raw.Side = "long"
	_, verr := Validate(raw)
	require.NotNil(t, verr)
	assert.Contains(t, verr.ReasonCodes, "invalid_enum_value")
}

func TestValidate_LimitOrderRequiresPositivePrice(t *testing.T) {
	raw := validRaw()
	raw.OrderType = "limit"
	_, verr := Validate(raw)
	require.NotNil(t, verr)
	assert.Contains(t, verr.ReasonCodes, "missing_required_field")

	raw.Price = 0.0
	_, verr = Validate(raw)
	require.NotNil(t, verr)
	assert.Contains(t, verr.ReasonCodes, "invalid_field_type")

	raw.Price = 50000.0
	oc, verr := Validate(raw)
	require.Nil(t, verr)
	assert.Equal(t, 50000.0, oc.Price)
}

func TestValidate_GuardsAndContextSubobjectsParsed(t *testing.T) {
	raw := validRaw()
	raw.Guards = map[string]interface{}{"spread_bps": 4.0, "event_lag_sec": 0.5, "activity_tpm": 20.0}
	raw.Context = map[string]interface{}{"fees_bps": 2.0, "maker_ratio_target": 0.6, "recent_pnl": -10.0}

	oc, verr := Validate(raw)
	require.Nil(t, verr)
	assert.Equal(t, 4.0, oc.Guards.SpreadBps)
	assert.Equal(t, 0.5, oc.Guards.EventLagSec)
	assert.Equal(t, 2.0, oc.Context.FeesBps)
	assert.Equal(t, 0.6, oc.Context.MakerRatioTarget)
}

func TestValidate_NegativeGuardValueIsInvalidFieldType(t *testing.T) {
	raw := validRaw()
	raw.Guards = map[string]interface{}{"spread_bps": -1.0}
	_, verr := Validate(raw)
	require.NotNil(t, verr)
	assert.Contains(t, verr.ReasonCodes, "invalid_field_type")
}

func TestValidate_AccountModeDefaultsAndValidates(t *testing.T) {
	raw := validRaw()
	raw.AccountMode = "margin"
	_, verr := Validate(raw)
	require.NotNil(t, verr)
	assert.Contains(t, verr.ReasonCodes, "invalid_enum_value")

	raw.AccountMode = "cross"
	oc, verr := Validate(raw)
	require.Nil(t, verr)
	assert.Equal(t, "cross", oc.AccountMode)
}
