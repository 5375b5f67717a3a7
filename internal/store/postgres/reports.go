package postgres

import (
	"context"
	"fmt"
	"time"

	"boutiquepos/backend/internal/domain"
	"boutiquepos/backend/internal/store"
)

// DailySummary aggregates the day's active sales: totals, the best selling
// items, per-cashier takings and a payment-method breakdown. Voided sales
// do not count.
func (s *Store) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	summary := domain.DailySummary{Date: date}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0), COUNT(*)
		FROM sales
		WHERE ts::date = $1::date AND status = $2
	`, date, domain.SaleStatusActive).Scan(&summary.TotalCents, &summary.SaleCount)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT si.item_name, SUM(si.quantity)
		FROM sale_items si
		JOIN sales sa ON sa.id = si.sale_id
		WHERE sa.ts::date = $1::date AND sa.status = $2
		GROUP BY si.item_name
		ORDER BY SUM(si.quantity) DESC, si.item_name
		LIMIT 10
	`, date, domain.SaleStatusActive)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item domain.DailySummaryItem
		if err := itemRows.Scan(&item.ItemName, &item.Quantity); err != nil {
			return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		summary.TopItems = append(summary.TopItems, item)
	}
	if err := itemRows.Err(); err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	cashierRows, err := s.db.QueryContext(ctx, `
		SELECT cashier, COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE ts::date = $1::date AND status = $2
		GROUP BY cashier
		ORDER BY SUM(total_cents) DESC
	`, date, domain.SaleStatusActive)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer cashierRows.Close()
	for cashierRows.Next() {
		var cashier domain.DailySummaryCashier
		if err := cashierRows.Scan(&cashier.Cashier, &cashier.TotalCents); err != nil {
			return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		summary.Cashiers = append(summary.Cashiers, cashier)
	}
	if err := cashierRows.Err(); err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE ts::date = $1::date AND status = $2
		GROUP BY payment_method
		ORDER BY payment_method
	`, date, domain.SaleStatusActive)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var payment domain.DailySummaryPayment
		if err := paymentRows.Scan(&payment.PaymentMethod, &payment.Sales, &payment.TotalCents); err != nil {
			return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		summary.ByPayment = append(summary.ByPayment, payment)
	}
	if err := paymentRows.Err(); err != nil {
		return domain.DailySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	return summary, nil
}

// WeeklySummary returns the seven daily totals ending at until, zeros
// filled in for quiet days.
func (s *Store) WeeklySummary(ctx context.Context, until time.Time) (domain.WeeklySummary, error) {
	until = until.UTC().Truncate(24 * time.Hour)
	from := until.AddDate(0, 0, -6)

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(ts::date, 'YYYY-MM-DD'), COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE ts::date BETWEEN $1::date AND $2::date AND status = $3
		GROUP BY ts::date
	`, from.Format("2006-01-02"), until.Format("2006-01-02"), domain.SaleStatusActive)
	if err != nil {
		return domain.WeeklySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	defer rows.Close()

	byDate := make(map[string]int64, 7)
	for rows.Next() {
		var date string
		var total int64
		if err := rows.Scan(&date, &total); err != nil {
			return domain.WeeklySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
		}
		byDate[date] = total
	}
	if err := rows.Err(); err != nil {
		return domain.WeeklySummary{}, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}

	summary := domain.WeeklySummary{
		From: from.Format("2006-01-02"),
		To:   until.Format("2006-01-02"),
	}
	for day := from; !day.After(until); day = day.AddDate(0, 0, 1) {
		date := day.Format("2006-01-02")
		summary.DailyTotals = append(summary.DailyTotals, domain.WeeklyTotal{
			Date:       date,
			TotalCents: byDate[date],
		})
	}
	return summary, nil
}

func (s *Store) TotalSales(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0) FROM sales WHERE status = $1
	`, domain.SaleStatusActive).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrStorage, err)
	}
	return total, nil
}
