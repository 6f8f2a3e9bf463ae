package offer

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/atmx/credence-engine/internal/model"
)

// choiceRegex matches a menu label: {price1}-{price2}
// Example: 2-7
var choiceRegex = regexp.MustCompile(`^(\d{1,3})-(\d{1,3})$`)

// ParseChoice splits a menu label into its two prices.
func ParseChoice(choice string) (price1, price2 int, err error) {
	m := choiceRegex.FindStringSubmatch(choice)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q (expected {price1}-{price2})", ErrUnknownChoice, choice)
	}
	price1, _ = strconv.Atoi(m[1])
	price2, _ = strconv.Atoi(m[2])
	return price1, price2, nil
}

// ChoiceLabel formats a price vector as a menu label.
func ChoiceLabel(pv model.PriceVector) string {
	return fmt.Sprintf("%d-%d", pv.Price1, pv.Price2)
}
