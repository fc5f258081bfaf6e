package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	defaultStaticFee     = decimal.RequireFromString("0.25")   // фиксированная комиссия провайдера
	defaultPercentageFee = decimal.RequireFromString("0.0729") // 5% площадки + 2.29% провайдера
)

// Commission считает выплату продавцу из суммы платежа
type Commission struct {
	StaticFee     decimal.Decimal
	PercentageFee decimal.Decimal
}

func DefaultCommission() Commission {
	return Commission{StaticFee: defaultStaticFee, PercentageFee: defaultPercentageFee}
}

// NewCommission разбирает ставки из строк конфига
func NewCommission(staticFee, percentageFee string) (Commission, error) {
	const op = "service.NewCommission"

	static, err := decimal.NewFromString(staticFee)
	if err != nil {
		return Commission{}, fmt.Errorf("%s: static fee: %w", op, err)
	}
	percentage, err := decimal.NewFromString(percentageFee)
	if err != nil {
		return Commission{}, fmt.Errorf("%s: percentage fee: %w", op, err)
	}
	return Commission{StaticFee: static, PercentageFee: percentage}, nil
}

// NetPayout = gross - (static + gross*percentage). Отрицательный результат не обрезается.
func (c Commission) NetPayout(gross decimal.Decimal) decimal.Decimal {
	fee := c.StaticFee.Add(gross.Mul(c.PercentageFee))
	return gross.Sub(fee)
}
