package generator

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var defaultPricingYAML []byte

// Rate — тариф модели, USD за 1M токенов.
type Rate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Cost возвращает стоимость вызова: prompt/1e6*input + completion/1e6*output.
func (r Rate) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*r.Input + float64(completionTokens)/1e6*r.Output
}

// Pricing — таблица тарифов по именам моделей.
type Pricing struct {
	Models map[string]Rate `yaml:"models"`
}

// LoadPricing разбирает таблицу тарифов в формате YAML.
func LoadPricing(data []byte) (*Pricing, error) {
	var p Pricing
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("разбор таблицы тарифов: %w", err)
	}
	for name, r := range p.Models {
		if r.Input < 0 || r.Output < 0 {
			return nil, fmt.Errorf("тариф %s: отрицательная цена", name)
		}
	}
	return &p, nil
}

// DefaultPricing возвращает встроенную таблицу тарифов.
func DefaultPricing() (*Pricing, error) {
	p, err := LoadPricing(defaultPricingYAML)
	if err != nil {
		return nil, fmt.Errorf("встроенная таблица тарифов: %w", err)
	}
	return p, nil
}

// Rate возвращает тариф модели.
func (p *Pricing) Rate(modelName string) (Rate, bool) {
	r, ok := p.Models[modelName]
	return r, ok
}
