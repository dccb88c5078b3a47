// Package service 订单服务
package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/commerce/order/internal/config"
	"github.com/commerce/order/pkg/money"
)

// Tier 折扣阶梯
type Tier struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
}

// DiscountCalculator 按小计金额选择最高满足的折扣档
type DiscountCalculator struct {
	tiers []Tier // 按阈值升序
}

// NewDiscountCalculator 创建折扣计算器
func NewDiscountCalculator(tiers []Tier) *DiscountCalculator {
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold.LessThan(sorted[j].Threshold)
	})
	return &DiscountCalculator{tiers: sorted}
}

// NewDiscountCalculatorFromConfig 从配置构建折扣阶梯
func NewDiscountCalculatorFromConfig(cfg config.PromoConfig) *DiscountCalculator {
	return NewDiscountCalculator([]Tier{
		{Threshold: cfg.Tier1Threshold, Rate: cfg.Tier1Rate},
		{Threshold: cfg.Tier2Threshold, Rate: cfg.Tier2Rate},
		{Threshold: cfg.Tier3Threshold, Rate: cfg.Tier3Rate},
	})
}

// RateFor 返回小计命中的折扣率，未命中返回 0
func (c *DiscountCalculator) RateFor(subtotal decimal.Decimal) decimal.Decimal {
	rate := decimal.Zero
	for _, t := range c.tiers {
		if subtotal.GreaterThanOrEqual(t.Threshold) {
			rate = t.Rate
		}
	}
	return rate
}

// Discount 返回折扣金额（两位小数，HALF_UP）
func (c *DiscountCalculator) Discount(subtotal decimal.Decimal) decimal.Decimal {
	rate := c.RateFor(subtotal)
	if rate.IsZero() {
		return money.Round2(decimal.Zero)
	}
	return money.Round2(subtotal.Mul(rate))
}
