package polymarket

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// flexBool unmarshals from a JSON bool or a "true"/"false" string; Gamma
// sends both.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket is the subset of a Gamma market the desk reads.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded, e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded, e.g. "[\"0.5\",\"0.5\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // JSON-encoded, e.g. "[\"123\",\"456\"]"
	Tokens        []Token  `json:"tokens"`
}

// Token is a token entry inside a Gamma market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Price   any    `json:"price"`
}

// decodeStringList parses Gamma's JSON-in-a-string arrays. Malformed input
// yields nil.
func decodeStringList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// YesNoTokens returns the YES and NO CLOB token ids, preferring the tokens
// array and falling back to clobTokenIds.
func (m *APIMarket) YesNoTokens() (yes, no string) {
	for _, t := range m.Tokens {
		switch strings.ToLower(t.Outcome) {
		case "yes":
			yes = t.TokenID
		case "no":
			no = t.TokenID
		}
	}
	if yes != "" && no != "" {
		return yes, no
	}
	ids := decodeStringList(m.ClobTokenIDs)
	outcomes := decodeStringList(m.Outcomes)
	for i, id := range ids {
		label := ""
		if i < len(outcomes) {
			label = strings.ToLower(outcomes[i])
		}
		switch {
		case label == "yes" || (label == "" && i == 0):
			if yes == "" {
				yes = id
			}
		case label == "no" || (label == "" && i == 1):
			if no == "" {
				no = id
			}
		}
	}
	return yes, no
}

// GammaPrices returns the YES and NO prices Gamma reports, parsed
// defensively: anything missing or unparseable is 0.
func (m *APIMarket) GammaPrices() (yes, no float64) {
	prices := decodeStringList(m.OutcomePrices)
	if len(prices) > 0 {
		yes = ParseFloatOrZero(prices[0])
	}
	if len(prices) > 1 {
		no = ParseFloatOrZero(prices[1])
	}
	return yes, no
}

// ParseFloatOrZero parses s as a float and returns 0 on any error or on a
// non-finite value.
func ParseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// BookResponse is the CLOB /book payload.
type BookResponse struct {
	Market  string      `json:"market"`
	AssetID string      `json:"asset_id"`
	Bids    []BookLevel `json:"bids"`
	Asks    []BookLevel `json:"asks"`
}

// BookLevel is a single price level.
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BestAsk returns the lowest positive ask price, or 0 for an empty book.
func (b *BookResponse) BestAsk() float64 {
	best := 0.0
	for _, lvl := range b.Asks {
		p := ParseFloatOrZero(lvl.Price)
		if p <= 0 {
			continue
		}
		if best == 0 || p < best {
			best = p
		}
	}
	return best
}
