package payment

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Package is a purchasable bundle of credits.
type Package struct {
	Code    string          `json:"code"`
	Credits int             `json:"credits"`
	Price   decimal.Decimal `json:"price"`
}

// ParsePackages reads "code:credits:price,..." as configured in CREDIT_PACKAGES.
func ParsePackages(raw string) (map[string]Package, error) {
	packages := make(map[string]Package)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("credit package %q: expected code:credits:price", item)
		}

		code := strings.ToLower(strings.TrimSpace(parts[0]))
		credits, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("credit package %q: invalid credits", item)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("credit package %q: invalid price", item)
		}
		if code == "" {
			return nil, fmt.Errorf("credit package %q: empty code", item)
		}
		if _, dup := packages[code]; dup {
			return nil, fmt.Errorf("credit package %q: duplicate code", code)
		}

		packages[code] = Package{Code: code, Credits: credits, Price: price.Round(2)}
	}
	if len(packages) == 0 {
		return nil, fmt.Errorf("no credit packages configured")
	}
	return packages, nil
}

func sortedPackages(packages map[string]Package) []Package {
	out := make([]Package, 0, len(packages))
	for _, p := range packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}
