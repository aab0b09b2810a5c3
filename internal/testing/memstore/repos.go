package memstore

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/financial"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/trade"
)

type inventoryRepo struct{ s *Store }

func (r *inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.run(ctx, func(tx *txState) error { return fn(ctx, tx) })
}

func (r *inventoryRepo) GetProduct(_ context.Context, id uuid.UUID) (inventory.Product, error) {
	var (
		p  inventory.Product
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.products[id] })
	if !ok {
		return inventory.Product{}, notFound("product", id)
	}
	return p, nil
}

func matches(p inventory.Product, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(p.Name), term) ||
		strings.Contains(strings.ToLower(p.Variant), term) ||
		strings.Contains(strings.ToLower(p.SKU), term)
}

func sortProducts(products []inventory.Product) {
	sort.Slice(products, func(i, j int) bool {
		a, b := strings.ToLower(products[i].Name), strings.ToLower(products[j].Name)
		if a != b {
			return a < b
		}
		return products[i].ID.String() < products[j].ID.String()
	})
}

func (r *inventoryRepo) ListProducts(_ context.Context, q inventory.ProductQuery) ([]inventory.Product, error) {
	var out []inventory.Product
	r.s.read(func(st *state) {
		for _, p := range st.products {
			if !q.IncludeInactive && p.Status != inventory.ProductActive {
				continue
			}
			switch q.Status {
			case inventory.FilterOutOfStock:
				if p.Stock.IsPositive() {
					continue
				}
			case inventory.FilterLowStock:
				if !p.Stock.IsPositive() || p.Stock.GreaterThan(q.LowStockThreshold) {
					continue
				}
			}
			if q.Search != "" && !matches(p, q.Search) {
				continue
			}
			out = append(out, p)
		}
	})
	sortProducts(out)
	return paginate(out, q.Page), nil
}

func (r *inventoryRepo) SearchProducts(_ context.Context, term string, limit int) ([]inventory.Product, error) {
	var out []inventory.Product
	r.s.read(func(st *state) {
		for _, p := range st.products {
			if p.Status == inventory.ProductActive && matches(p, term) {
				out = append(out, p)
			}
		}
	})
	sortProducts(out)
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []inventory.Product{}
	}
	return out, nil
}

func (r *inventoryRepo) ProductStats(_ context.Context, lowStock decimal.Decimal) (inventory.ProductStats, error) {
	var stats inventory.ProductStats
	r.s.read(func(st *state) {
		for _, p := range st.products {
			if p.Status != inventory.ProductActive {
				continue
			}
			stats.Total++
			switch {
			case !p.Stock.IsPositive():
				stats.OutOfStock++
			case p.Stock.LessThanOrEqual(lowStock):
				stats.LowStock++
			}
		}
	})
	return stats, nil
}

func (r *inventoryRepo) InventoryStats(_ context.Context) (inventory.InventoryStats, error) {
	stats := inventory.InventoryStats{TotalStockValue: decimal.Zero}
	r.s.read(func(st *state) {
		for _, p := range st.products {
			if p.Status != inventory.ProductActive {
				continue
			}
			stats.TotalProducts++
			stats.TotalStockValue = stats.TotalStockValue.Add(p.StockValue())
		}
	})
	return stats, nil
}

func view(st *state, e inventory.LedgerEntry) inventory.LedgerView {
	v := inventory.LedgerView{LedgerEntry: e}
	if p, ok := st.products[e.ProductID]; ok {
		v.ProductName, v.ProductSKU, v.ProductUnit = p.Name, p.SKU, p.BaseUnit
	}
	if e.ContactID != nil {
		v.ContactName = st.contacts[*e.ContactID].Name
	}
	return v
}

func (r *inventoryRepo) ListEntries(_ context.Context, productID uuid.UUID, page shared.Page) ([]inventory.LedgerView, error) {
	var out []inventory.LedgerView
	r.s.read(func(st *state) {
		entries := st.ledger[productID]
		for i := len(entries) - 1; i >= 0; i-- {
			out = append(out, view(st, entries[i]))
		}
	})
	return paginate(out, page), nil
}

func (r *inventoryRepo) ListRecentEntries(_ context.Context, page shared.Page) ([]inventory.LedgerView, error) {
	var out []inventory.LedgerView
	r.s.read(func(st *state) {
		for _, entries := range st.ledger {
			for _, e := range entries {
				out = append(out, view(st, e))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return st.order[out[i].ID] > st.order[out[j].ID]
		})
	})
	return paginate(out, page), nil
}

func (r *inventoryRepo) FlaggedProductIDs(_ context.Context, limit int) ([]uuid.UUID, error) {
	var flagged []inventory.Product
	r.s.read(func(st *state) {
		for _, p := range st.products {
			if p.NeedsRecalculation {
				flagged = append(flagged, p)
			}
		}
	})
	sort.Slice(flagged, func(i, j int) bool {
		if !flagged[i].UpdatedAt.Equal(flagged[j].UpdatedAt) {
			return flagged[i].UpdatedAt.Before(flagged[j].UpdatedAt)
		}
		return flagged[i].ID.String() < flagged[j].ID.String()
	})
	ids := make([]uuid.UUID, 0, len(flagged))
	for i, p := range flagged {
		if i == limit {
			break
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

type contactsRepo struct{ s *Store }

func (r *contactsRepo) WithTx(ctx context.Context, fn func(context.Context, contacts.TxRepository) error) error {
	return r.s.run(ctx, func(tx *txState) error { return fn(ctx, tx) })
}

func (r *contactsRepo) GetContact(_ context.Context, id uuid.UUID) (contacts.Contact, error) {
	var (
		c  contacts.Contact
		ok bool
	)
	r.s.read(func(st *state) { c, ok = st.contacts[id] })
	if !ok {
		return contacts.Contact{}, notFound("contact", id)
	}
	return c, nil
}

func (r *contactsRepo) ListContacts(_ context.Context, f contacts.Filter) ([]contacts.Contact, error) {
	var out []contacts.Contact
	term := strings.ToLower(f.Search)
	r.s.read(func(st *state) {
		for _, c := range st.contacts {
			if c.Archived || (f.Type != "" && c.Type != f.Type) {
				continue
			}
			if term != "" && !strings.Contains(strings.ToLower(c.Name), term) && !strings.Contains(strings.ToLower(c.Phone), term) {
				continue
			}
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := contacts.FoldName(out[i].Name), contacts.FoldName(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, f.Page), nil
}

func (r *contactsRepo) ContactStats(_ context.Context, id uuid.UUID) (contacts.Stats, error) {
	stats := contacts.Stats{TotalAmount: decimal.Zero}
	r.s.read(func(st *state) {
		for _, txn := range st.txns {
			if txn.ContactID != nil && *txn.ContactID == id {
				stats.Count++
				stats.TotalAmount = stats.TotalAmount.Add(txn.TotalAmount)
			}
		}
	})
	return stats, nil
}

func (r *contactsRepo) Summary(_ context.Context) (contacts.Summary, error) {
	var sum contacts.Summary
	r.s.read(func(st *state) {
		for _, c := range st.contacts {
			if c.Archived {
				continue
			}
			if c.Type == contacts.TypeCustomer {
				sum.TotalCustomers++
			} else {
				sum.TotalSuppliers++
			}
		}
	})
	return sum, nil
}

type tradeRepo struct{ s *Store }

func (r *tradeRepo) WithTx(ctx context.Context, fn func(context.Context, trade.TxRepository) error) error {
	return r.s.run(ctx, func(tx *txState) error { return fn(ctx, tx) })
}

func hydrate(st *state, txn trade.Transaction) trade.Transaction {
	if txn.ContactID != nil {
		c := st.contacts[*txn.ContactID]
		txn.ContactName, txn.ContactPhone, txn.ContactAddress = c.Name, c.Phone, c.Address
	}
	items := make([]trade.Item, 0, len(txn.Items))
	for _, it := range txn.Items {
		if p, ok := st.products[it.ProductID]; ok {
			it.ProductName, it.Variant = p.Name, p.Variant
		}
		items = append(items, it)
	}
	txn.Items = items
	return txn
}

func (r *tradeRepo) filtered(st *state, f trade.Filter) []trade.Transaction {
	term := strings.ToLower(f.Search)
	var out []trade.Transaction
	for _, txn := range st.txns {
		txn = hydrate(st, txn)
		if f.Type != "" && txn.Type != f.Type {
			continue
		}
		if !f.Range.Contains(txn.Date) {
			continue
		}
		if f.ContactID != nil && (txn.ContactID == nil || *txn.ContactID != *f.ContactID) {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(txn.InvoiceNumber), term) &&
			!strings.Contains(strings.ToLower(txn.ContactName), term) &&
			!strings.Contains(strings.ToLower(txn.Notes), term) {
			continue
		}
		out = append(out, txn)
	}
	return out
}

func (r *tradeRepo) ListTransactions(_ context.Context, f trade.Filter) ([]trade.Transaction, error) {
	var out []trade.Transaction
	r.s.read(func(st *state) { out = r.filtered(st, f) })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].InvoiceNumber > out[j].InvoiceNumber
	})
	for i := range out {
		out[i].Items = nil
	}
	return paginate(out, f.Page), nil
}

func (r *tradeRepo) GetTransaction(_ context.Context, id uuid.UUID) (trade.Transaction, error) {
	var (
		txn trade.Transaction
		ok  bool
	)
	r.s.read(func(st *state) {
		txn, ok = st.txns[id]
		if ok {
			txn = hydrate(st, txn)
		}
	})
	if !ok {
		return trade.Transaction{}, notFound("transaction", id)
	}
	return txn, nil
}

func (r *tradeRepo) Stats(_ context.Context, f trade.Filter) (trade.Stats, error) {
	stats := trade.Stats{TotalAmountIn: decimal.Zero, TotalAmountOut: decimal.Zero}
	r.s.read(func(st *state) {
		for _, txn := range r.filtered(st, f) {
			stats.TotalCount++
			if txn.Type == inventory.DirectionIn {
				stats.TotalAmountIn = stats.TotalAmountIn.Add(txn.TotalAmount)
			} else {
				stats.TotalAmountOut = stats.TotalAmountOut.Add(txn.TotalAmount)
			}
		}
	})
	return stats, nil
}

type financialRepo struct{ s *Store }

func (r *financialRepo) SaleTotals(_ context.Context, dr shared.DateRange) (financial.SaleTotals, error) {
	totals := financial.SaleTotals{Revenue: decimal.Zero, COGS: decimal.Zero}
	r.s.read(func(st *state) {
		for _, txn := range st.txns {
			if txn.Type != inventory.DirectionOut || !dr.Contains(txn.Date) {
				continue
			}
			for _, it := range txn.Items {
				totals.Revenue = totals.Revenue.Add(it.Subtotal)
				totals.COGS = totals.COGS.Add(it.COGS)
			}
		}
	})
	return totals, nil
}

func (r *financialRepo) DailyTotals(_ context.Context, dr shared.DateRange) ([]financial.DailyTotal, error) {
	byDay := map[string]*financial.DailyTotal{}
	r.s.read(func(st *state) {
		for _, txn := range st.txns {
			if !dr.Contains(txn.Date) {
				continue
			}
			day := shared.TruncateDay(txn.Date)
			key := day.Format(shared.DateLayout)
			d, ok := byDay[key]
			if !ok {
				d = &financial.DailyTotal{Day: day, Sales: decimal.Zero, Purchases: decimal.Zero}
				byDay[key] = d
			}
			if txn.Type == inventory.DirectionOut {
				d.Sales = d.Sales.Add(txn.TotalAmount)
				d.SalesCount++
			} else {
				d.Purchases = d.Purchases.Add(txn.TotalAmount)
				d.PurchaseCount++
			}
		}
	})
	out := make([]financial.DailyTotal, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}
