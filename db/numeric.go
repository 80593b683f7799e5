package db

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const mysqlMaxDecimalPrecision = 65

// Numeric is an exact decimal column. Values are exchanged with the driver as strings, never as float64.
type Numeric struct {
	decimal.Decimal
}

func NewNumeric(d decimal.Decimal) Numeric {
	return Numeric{Decimal: d}
}

func NumericFromString(s string) (Numeric, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Numeric{}, err
	}
	return Numeric{Decimal: d}, nil
}

func MustNumeric(s string) Numeric {
	n, err := NumericFromString(s)
	if err != nil {
		panic(err)
	}
	return n
}

// GormDBDataType picks the column type per dialect from the precision/scale tags. SQLite keeps the
// value as TEXT since a NUMERIC column there would coerce it to REAL.
func (Numeric) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	precision, scale := field.Precision, field.Scale
	if precision == 0 {
		precision = mysqlMaxDecimalPrecision
	}
	switch db.Dialector.Name() {
	case "sqlite":
		return "text"
	case "mysql":
		if precision > mysqlMaxDecimalPrecision {
			return "varchar(96)"
		}
		return fmt.Sprintf("decimal(%d,%d)", precision, scale)
	default:
		return fmt.Sprintf("numeric(%d,%d)", precision, scale)
	}
}
