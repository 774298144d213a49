package llm

// ModelPrice is USD per million tokens, split by direction.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable is the static per-model price list. Unknown models fall back
// to the most expensive entry, per the conservative-estimate rule.
var priceTable = map[string]ModelPrice{
	"claude-opus-4-6":      {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4-6":    {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-4-6":     {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"local-llama-3-70b":    {InputPerMillion: 0.00, OutputPerMillion: 0.00},
}

func priceFor(model string) ModelPrice {
	if p, ok := priceTable[model]; ok {
		return p
	}
	return mostExpensive()
}

func mostExpensive() ModelPrice {
	var worst ModelPrice
	for _, p := range priceTable {
		if p.InputPerMillion+p.OutputPerMillion > worst.InputPerMillion+worst.OutputPerMillion {
			worst = p
		}
	}
	return worst
}

// cost implements cost = tokens_in/1e6*price_in + tokens_out/1e6*price_out.
func cost(model string, promptTokens, completionTokens int) float64 {
	p := priceFor(model)
	return float64(promptTokens)/1e6*p.InputPerMillion + float64(completionTokens)/1e6*p.OutputPerMillion
}
