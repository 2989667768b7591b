package testutil

import (
	"fmt"

	"github.com/ethpandaops/chfs/pkg/frame"
)

// ChurnSchema returns the raw customer table schema as read from the catalog
func ChurnSchema() frame.Schema {
	return frame.NewSchema(
		frame.Column{Name: "customer_id", Type: frame.TypeString},
		frame.Column{Name: "gender", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "senior_citizen", Type: frame.TypeInt64, Nullable: true},
		frame.Column{Name: "tenure", Type: frame.TypeFloat64, Nullable: true},
		frame.Column{Name: "online_security", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "online_backup", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "device_protection", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "tech_support", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "streaming_tv", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "streaming_movies", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "monthly_charges", Type: frame.TypeFloat64, Nullable: true},
		frame.Column{Name: "total_charges", Type: frame.TypeString, Nullable: true},
		frame.Column{Name: "churn", Type: frame.TypeBool, Nullable: true},
	)
}

// ChurnRecord builds one raw customer row. Every fourth customer has a blank
// total_charges and every seventh has no tenure.
func ChurnRecord(i int) frame.Record {
	yesNo := func(on bool) string {
		if on {
			return "Yes"
		}

		return "No"
	}

	r := frame.Record{
		"customer_id":       CustomerID(i),
		"gender":            []string{"Female", "Male"}[i%2],
		"senior_citizen":    int64(i % 2),
		"tenure":            float64(i%72 + 1),
		"online_security":   yesNo(i%2 == 0),
		"online_backup":     yesNo(i%3 == 0),
		"device_protection": yesNo(i%4 == 0),
		"tech_support":      "No internet service",
		"streaming_tv":      yesNo(i%5 == 0),
		"streaming_movies":  yesNo(i%6 == 0),
		"monthly_charges":   20.0 + float64(i%80),
		"total_charges":     fmt.Sprintf("%.2f", float64(i%72+1)*(20.0+float64(i%80))),
		"churn":             i%4 == 1,
	}

	if i%4 == 3 {
		r["total_charges"] = " "
	}

	if i%7 == 6 {
		r["tenure"] = nil
	}

	return r
}

// CustomerID returns the customer id used for row i of the fixtures
func CustomerID(i int) string {
	return fmt.Sprintf("%04d-CUST", i)
}

// ChurnTable builds a raw customer table with n rows
func ChurnTable(n int) *frame.Table {
	rows := make([]frame.Record, n)
	for i := range rows {
		rows[i] = ChurnRecord(i)
	}

	return frame.New(ChurnSchema(), rows)
}
