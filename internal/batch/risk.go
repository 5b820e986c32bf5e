package batch

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/money"
)

// ValueAtRisk totals quantity x cost for stock that is expired or expires
// within withinDays of today. names maps product id to display name.
func ValueAtRisk(batches []domain.Batch, names map[string]string, withinDays int, today time.Time) domain.ValueAtRiskReport {
	report := domain.ValueAtRiskReport{
		WithinDays:  withinDays,
		GeneratedAt: today,
		Batches:     make([]domain.ExpiryRisk, 0),
		Total:       decimal.Zero,
	}

	for _, b := range batches {
		if b.CurrentQuantity <= 0 {
			continue
		}
		days, ok := DaysUntilExpiry(b, today)
		if !ok || days > withinDays {
			continue
		}
		value := money.LineTotal(b.CostPrice, b.CurrentQuantity)
		report.Batches = append(report.Batches, domain.ExpiryRisk{
			ProductID:       b.ProductID,
			ProductName:     names[b.ProductID],
			BatchNumber:     b.BatchNumber,
			CurrentQuantity: b.CurrentQuantity,
			CostPrice:       b.CostPrice,
			ExpiryDate:      *b.ExpiryDate,
			DaysToExpiry:    days,
			Expired:         days < 0,
			ValueAtRisk:     value,
		})
		report.Total = report.Total.Add(value)
	}

	report.Total = money.Round2(report.Total)
	sort.SliceStable(report.Batches, func(i, j int) bool {
		return report.Batches[i].DaysToExpiry < report.Batches[j].DaysToExpiry
	})
	return report
}
