package functions

import "github.com/ethpandaops/chfs/pkg/frame"

// AvgPriceIncreaseName is the name of the built-in price increase function
const AvgPriceIncreaseName = "avg_price_increase"

// AvgPriceIncrease estimates the average price increase of a tenured
// customer: the last monthly charge minus the historical average monthly
// charge. Customers with no tenure score 0.
func AvgPriceIncrease() Function {
	return Function{
		Name: AvgPriceIncreaseName,
		Params: []Param{
			{Name: "monthly_charges_in", Type: frame.TypeFloat64},
			{Name: "tenure_in", Type: frame.TypeFloat64},
			{Name: "total_charges_in", Type: frame.TypeFloat64},
		},
		Returns:  frame.TypeFloat64,
		Body:     "if(tenure_in > 0, monthly_charges_in - total_charges_in / tenure_in, 0)",
		Language: LanguageSQL,
		Comment: "[Feature Function] Calculate potential average price increase for tenured customers " +
			"based on last monthly charges and updated tenure",
		Inputs: map[string]string{
			"monthly_charges_in": "monthly_charges",
			"tenure_in":          "tenure",
			"total_charges_in":   "total_charges",
		},
		Eval: func(args []float64) float64 {
			return avgPriceIncrease(args[0], args[1], args[2])
		},
	}
}

func avgPriceIncrease(monthlyCharges, tenure, totalCharges float64) float64 {
	if tenure > 0 {
		return monthlyCharges - totalCharges/tenure
	}

	return 0
}

// Builtins returns every built-in function
func Builtins() []Function {
	return []Function{AvgPriceIncrease()}
}
