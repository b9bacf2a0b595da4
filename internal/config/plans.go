package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/imagify/imagify/internal/model"
)

// planFile is the YAML layout of PLAN_CATALOG_FILE:
//
//	plans:
//	  - id: Basic
//	    credits: 100
//	    amount: "10.00"
type planFile struct {
	Plans []struct {
		ID      string `yaml:"id"`
		Credits int64  `yaml:"credits"`
		Amount  string `yaml:"amount"`
	} `yaml:"plans"`
}

// LoadPlanCatalog reads a plan catalog from a YAML file.
func LoadPlanCatalog(path string) (model.PlanCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return ParsePlanCatalog(raw)
}

// ParsePlanCatalog decodes and validates a YAML plan catalog.
func ParsePlanCatalog(raw []byte) (model.PlanCatalog, error) {
	var f planFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}

	catalog := make(model.PlanCatalog, len(f.Plans))
	for i, p := range f.Plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan %d: id is required", i)
		}
		if _, dup := catalog[p.ID]; dup {
			return nil, fmt.Errorf("plan %q: duplicate id", p.ID)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("plan %q: credits must be positive", p.ID)
		}
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("plan %q: amount: %w", p.ID, err)
		}
		if !amount.IsPositive() {
			return nil, fmt.Errorf("plan %q: amount must be positive", p.ID)
		}
		catalog[p.ID] = model.Plan{ID: p.ID, Credits: p.Credits, Amount: amount}
	}
	return catalog, nil
}
