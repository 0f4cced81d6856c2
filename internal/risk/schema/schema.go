// Package schema implements C2: hard-gate validation of an OrderContext,
// grounded on the original's schema_validator.py, with the ordering fixed to
// spec.md §4.2 and the reason_codes[0]="invalid_schema" invariant (spec §8)
// always honored — unlike the original, whose missing-required-field early
// return omits that prefix.
package schema

import (
	"fmt"
)

// ValidationError is the typed hard-gate failure returned by Validate.
type ValidationError struct {
	ReasonCodes []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order context: %v", e.ReasonCodes)
}

var validSides = map[string]bool{"buy": true, "sell": true}
var validOrderTypes = map[string]bool{"market": true, "limit": true}
var validAccountModes = map[string]bool{"isolated": true, "cross": true}

// Guards is the optional guards sub-object of an OrderContext.
type Guards struct {
	SpreadBps    float64
	EventLagSec  float64
	ActivityTPM  float64
}

// Context is an additional optional sub-object carrying fee/maker-ratio hints.
type Context struct {
	FeesBps          float64
	MakerRatioTarget float64
	RecentPnL        float64
}

// OrderContext is the canonical validated input to C6 (spec §3.3).
type OrderContext struct {
	Symbol         string
	Side           string
	OrderType      string
	Qty            float64
	Price          float64
	AccountMode    string
	MaxSlippageBps float64
	TsMs           int64
	Regime         string
	Guards         Guards
	Context        Context
}

// RawOrderContext is the free-map form accepted at the boundary (spec §9's
// OrderContext::try_from(map) collapse of dynamic-dispatch call sites).
type RawOrderContext struct {
	Symbol         interface{}
	Side           interface{}
	OrderType      interface{}
	Qty            interface{}
	Price          interface{}
	AccountMode    interface{}
	MaxSlippageBps interface{}
	TsMs           interface{}
	Regime         interface{}
	Guards         map[string]interface{}
	Context        map[string]interface{}
}

// Validate runs the ordered hard-gate checks of spec §4.2 against a typed
// OrderContext-shaped input and returns either a canonical OrderContext or a
// *ValidationError whose ReasonCodes[0] is always "invalid_schema".
func Validate(raw RawOrderContext) (*OrderContext, *ValidationError) {
	var reasons []string

	symbol, ok := asNonEmptyString(raw.Symbol)
	if !ok {
		reasons = append(reasons, "missing_required_field")
	}
	side, sidePresent := asNonEmptyString(raw.Side)
	if !sidePresent {
		reasons = append(reasons, "missing_required_field")
	}
	orderType, otPresent := asNonEmptyString(raw.OrderType)
	if !otPresent {
		reasons = append(reasons, "missing_required_field")
	}
	qty, qtyOK := asFloat(raw.Qty)
	if !qtyOK {
		reasons = append(reasons, "missing_required_field")
	}

	if len(reasons) > 0 {
		return nil, &ValidationError{ReasonCodes: prepend("invalid_schema", reasons)}
	}

	if qty <= 0 {
		reasons = append(reasons, "invalid_field_type")
	}
	if sidePresent && !validSides[side] {
		reasons = append(reasons, "invalid_enum_value")
	}
	if otPresent && !validOrderTypes[orderType] {
		reasons = append(reasons, "invalid_enum_value")
	}

	var price float64
	if orderType == "limit" {
		p, pOK := asFloat(raw.Price)
		if !pOK {
			reasons = append(reasons, "missing_required_field")
		} else if p <= 0 {
			reasons = append(reasons, "invalid_field_type")
		} else {
			price = p
		}
	} else if raw.Price != nil {
		if p, pOK := asFloat(raw.Price); pOK {
			price = p
		}
	}

	accountMode := "isolated"
	if raw.AccountMode != nil {
		am, amOK := asNonEmptyString(raw.AccountMode)
		if !amOK {
			reasons = append(reasons, "invalid_field_type")
		} else if !validAccountModes[am] {
			reasons = append(reasons, "invalid_enum_value")
		} else {
			accountMode = am
		}
	}

	maxSlippageBps := 10.0
	if raw.MaxSlippageBps != nil {
		if v, vOK := asFloat(raw.MaxSlippageBps); vOK {
			maxSlippageBps = v
		} else {
			reasons = append(reasons, "invalid_field_type")
		}
	}

	var tsMs int64
	if raw.TsMs != nil {
		if v, vOK := asFloat(raw.TsMs); vOK {
			tsMs = int64(v)
		} else {
			reasons = append(reasons, "invalid_field_type")
		}
	}

	regime := "normal"
	if raw.Regime != nil {
		if r, rOK := asNonEmptyString(raw.Regime); rOK {
			regime = r
		}
	}

	guards, gReasons := parseGuards(raw.Guards)
	reasons = append(reasons, gReasons...)

	ctx, cReasons := parseContext(raw.Context)
	reasons = append(reasons, cReasons...)

	if len(reasons) > 0 {
		return nil, &ValidationError{ReasonCodes: prepend("invalid_schema", reasons)}
	}

	return &OrderContext{
		Symbol:         symbol,
		Side:           side,
		OrderType:      orderType,
		Qty:            qty,
		Price:          price,
		AccountMode:    accountMode,
		MaxSlippageBps: maxSlippageBps,
		TsMs:           tsMs,
		Regime:         regime,
		Guards:         guards,
		Context:        ctx,
	}, nil
}

func parseGuards(m map[string]interface{}) (Guards, []string) {
	var g Guards
	var reasons []string
	if m == nil {
		return g, reasons
	}
	if v, ok := m["spread_bps"]; ok {
		f, fOK := asFloat(v)
		if !fOK || f < 0 {
			reasons = append(reasons, "invalid_field_type")
		} else {
			g.SpreadBps = f
		}
	}
	if v, ok := m["event_lag_sec"]; ok {
		f, fOK := asFloat(v)
		if !fOK || f < 0 {
			reasons = append(reasons, "invalid_field_type")
		} else {
			g.EventLagSec = f
		}
	}
	if v, ok := m["activity_tpm"]; ok {
		f, fOK := asFloat(v)
		if !fOK || f < 0 {
			reasons = append(reasons, "invalid_field_type")
		} else {
			g.ActivityTPM = f
		}
	}
	return g, reasons
}

func parseContext(m map[string]interface{}) (Context, []string) {
	var c Context
	var reasons []string
	if m == nil {
		return c, reasons
	}
	if v, ok := m["fees_bps"]; ok {
		if f, fOK := asFloat(v); fOK {
			c.FeesBps = f
		} else {
			reasons = append(reasons, "invalid_field_type")
		}
	}
	if v, ok := m["maker_ratio_target"]; ok {
		if f, fOK := asFloat(v); fOK {
			c.MakerRatioTarget = f
		} else {
			reasons = append(reasons, "invalid_field_type")
		}
	}
	if v, ok := m["recent_pnl"]; ok {
		if f, fOK := asFloat(v); fOK {
			c.RecentPnL = f
		} else {
			reasons = append(reasons, "invalid_field_type")
		}
	}
	return c, reasons
}

func prepend(head string, tail []string) []string {
	out := make([]string, 0, len(tail)+1)
	out = append(out, head)
	out = append(out, tail...)
	return out
}

func asNonEmptyString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
