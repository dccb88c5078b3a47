// Package money 金额精度工具（两位小数，HALF_UP）
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinTotal 订单最小金额
var MinTotal = decimal.New(1, -2) // 0.01

// Parse 从字符串解析金额
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// MustParse 解析金额，失败时 panic（仅用于常量和配置默认值）
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round2 四舍五入到两位小数。
// decimal.Round 对正数为 half-away-from-zero，金额恒为非负，等价于 HALF_UP。
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Format 格式化为两位小数字符串
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FloorInt 向下取整为整数（积分计算）
func FloorInt(d decimal.Decimal) int64 {
	return d.Floor().IntPart()
}
