package memstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/trade"
)

// txState implements trade.TxRepository, and with it the inventory and
// contacts transactional ports, over a draft copy of the state.
type txState struct {
	store *Store
	st    *state
}

var _ trade.TxRepository = (*txState)(nil)

func (t *txState) InsertProduct(_ context.Context, p inventory.Product) error {
	if _, ok := t.st.products[p.ID]; ok {
		return fmt.Errorf("%w: product %s exists", shared.ErrConflict, p.ID)
	}
	if err := t.checkSKU(p); err != nil {
		return err
	}
	t.st.products[p.ID] = p
	return nil
}

func (t *txState) checkSKU(p inventory.Product) error {
	if p.SKU == "" {
		return nil
	}
	for id, other := range t.st.products {
		if id != p.ID && other.SKU == p.SKU {
			return fmt.Errorf("%w: sku %s already exists", shared.ErrConflict, p.SKU)
		}
	}
	return nil
}

func (t *txState) LockProducts(_ context.Context, ids []uuid.UUID) ([]inventory.Product, error) {
	out := make([]inventory.Product, 0, len(ids))
	for _, id := range inventory.SortIDs(ids) {
		p, ok := t.st.products[id]
		if !ok {
			return nil, notFound("product", id)
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *txState) LastEntry(_ context.Context, productID uuid.UUID) (inventory.LedgerEntry, bool, error) {
	entries := t.st.ledger[productID]
	if len(entries) == 0 {
		return inventory.LedgerEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (t *txState) ProductEntries(_ context.Context, productID uuid.UUID) ([]inventory.LedgerEntry, error) {
	return append([]inventory.LedgerEntry(nil), t.st.ledger[productID]...), nil
}

func (t *txState) InsertEntry(_ context.Context, e inventory.LedgerEntry) error {
	if err := t.store.injected("InsertEntry"); err != nil {
		return err
	}
	if _, ok := t.st.products[e.ProductID]; !ok {
		return notFound("product", e.ProductID)
	}
	entries := t.st.ledger[e.ProductID]
	if e.Seq != int64(len(entries)+1) {
		return fmt.Errorf("memstore: seq %d breaks chain of product %s", e.Seq, e.ProductID)
	}
	if !e.Qty.IsPositive() || e.Balance.IsNegative() {
		return fmt.Errorf("memstore: entry violates qty/balance checks")
	}
	t.st.nextSeq++
	t.st.order[e.ID] = t.st.nextSeq
	t.st.ledger[e.ProductID] = append(entries, e)
	return nil
}

func (t *txState) SaveProjection(_ context.Context, productID uuid.UUID, proj inventory.Projection) error {
	p, ok := t.st.products[productID]
	if !ok {
		return notFound("product", productID)
	}
	p.Stock = proj.Stock
	p.AverageCost = proj.AverageCost
	if proj.ClearFlag {
		p.NeedsRecalculation = proj.Flag
	} else {
		p.NeedsRecalculation = p.NeedsRecalculation || proj.Flag
	}
	p.UpdatedAt = t.store.now().UTC()
	t.st.products[productID] = p
	return nil
}

func (t *txState) UpdateProduct(_ context.Context, p inventory.Product) error {
	current, ok := t.st.products[p.ID]
	if !ok {
		return notFound("product", p.ID)
	}
	if err := t.checkSKU(p); err != nil {
		return err
	}
	stock := current.Stock
	current = p
	current.Stock = stock
	t.st.products[p.ID] = current
	return nil
}

func (t *txState) HasEntries(_ context.Context, productID uuid.UUID) (bool, error) {
	return len(t.st.ledger[productID]) > 0, nil
}

func (t *txState) DeleteProduct(_ context.Context, productID uuid.UUID) error {
	delete(t.st.products, productID)
	return nil
}

func (t *txState) GetContact(_ context.Context, id uuid.UUID) (contacts.Contact, error) {
	c, ok := t.st.contacts[id]
	if !ok {
		return contacts.Contact{}, notFound("contact", id)
	}
	return c, nil
}

func (t *txState) FindContactByName(_ context.Context, name string, typ contacts.Type) (contacts.Contact, bool, error) {
	c, ok := findContact(t.st, name, typ)
	return c, ok, nil
}

func findContact(st *state, name string, typ contacts.Type) (contacts.Contact, bool) {
	key := contacts.FoldName(name)
	for _, c := range st.contacts {
		if !c.Archived && c.Type == typ && contacts.FoldName(c.Name) == key {
			return c, true
		}
	}
	return contacts.Contact{}, false
}

func (t *txState) InsertContact(_ context.Context, c contacts.Contact) error {
	if err := t.store.injected("InsertContact"); err != nil {
		return err
	}
	if _, ok := findContact(t.st, c.Name, c.Type); ok {
		return fmt.Errorf("%w: contact %q already exists", shared.ErrConflict, c.Name)
	}
	t.st.contacts[c.ID] = c
	return nil
}

func (t *txState) UpdateContact(_ context.Context, c contacts.Contact) error {
	if _, ok := t.st.contacts[c.ID]; !ok {
		return notFound("contact", c.ID)
	}
	if !c.Archived {
		if other, ok := findContact(t.st, c.Name, c.Type); ok && other.ID != c.ID {
			return fmt.Errorf("%w: contact %q already exists", shared.ErrConflict, c.Name)
		}
	}
	t.st.contacts[c.ID] = c
	return nil
}

func (t *txState) IsReferenced(_ context.Context, id uuid.UUID) (bool, error) {
	for _, txn := range t.st.txns {
		if txn.ContactID != nil && *txn.ContactID == id {
			return true, nil
		}
	}
	for _, entries := range t.st.ledger {
		for _, e := range entries {
			if e.ContactID != nil && *e.ContactID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *txState) DeleteContact(_ context.Context, id uuid.UUID) error {
	delete(t.st.contacts, id)
	return nil
}

func (t *txState) InvoiceExists(_ context.Context, invoice string) (bool, error) {
	for _, txn := range t.st.txns {
		if txn.InvoiceNumber == invoice {
			return true, nil
		}
	}
	return false, nil
}

func (t *txState) NextInvoiceSeq(_ context.Context, prefix string) (int, error) {
	highest := 0
	for _, txn := range t.st.txns {
		suffix, ok := strings.CutPrefix(txn.InvoiceNumber, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

func (t *txState) InsertTransaction(ctx context.Context, txn trade.Transaction) error {
	if err := t.store.injected("InsertTransaction"); err != nil {
		return err
	}
	if exists, _ := t.InvoiceExists(ctx, txn.InvoiceNumber); exists {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateInvoice, txn.InvoiceNumber)
	}
	txn.Items = nil
	t.st.txns[txn.ID] = txn
	return nil
}

func (t *txState) InsertItems(_ context.Context, items []trade.Item) error {
	if err := t.store.injected("InsertItems"); err != nil {
		return err
	}
	for _, it := range items {
		txn, ok := t.st.txns[it.TransactionID]
		if !ok {
			return notFound("transaction", it.TransactionID)
		}
		txn.Items = append(append([]trade.Item(nil), txn.Items...), it)
		t.st.txns[it.TransactionID] = txn
	}
	return nil
}
