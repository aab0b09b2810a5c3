package contacts_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/testing/memstore"
)

func newService(policy contacts.DeletePolicy) (*contacts.Service, *memstore.Store, *memstore.AuditRecorder) {
	store := memstore.New()
	audit := &memstore.AuditRecorder{}
	return contacts.NewService(store.Contacts(), audit, policy, nil), store, audit
}

// reference records a ledger entry pointing at contact.
func reference(t *testing.T, store *memstore.Store, contactID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	inv := inventory.NewService(store.Inventory(), nil, nil, inventory.ServiceConfig{}, nil)
	p, err := inv.CreateProduct(ctx, inventory.ProductInput{Name: "Item " + contactID.String()[:4]})
	require.NoError(t, err)
	_, err = inv.Append(ctx, inventory.AppendInput{
		ProductID: p.ID,
		Direction: inventory.DirectionIn,
		Qty:       decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(1),
		ContactID: &contactID,
	})
	require.NoError(t, err)
}

func TestFoldName(t *testing.T) {
	require.Equal(t, "toko budi", contacts.FoldName("  Toko   BUDI "))
	require.Equal(t, contacts.FoldName("STRASSE"), contacts.FoldName("straße"))
	require.Equal(t, contacts.FoldName("Caf\u00e9"), contacts.FoldName("Cafe\u0301"))
}

func TestCreateRejectsDuplicateNamePerType(t *testing.T) {
	svc, _, audit := newService(contacts.BlockDelete)
	ctx := context.Background()

	c, err := svc.Create(ctx, contacts.Input{Name: "Toko Budi", Type: contacts.TypeSupplier, Phone: " 0812 "})
	require.NoError(t, err)
	require.Equal(t, "0812", c.Phone)

	_, err = svc.Create(ctx, contacts.Input{Name: "toko  budi", Type: contacts.TypeSupplier})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Create(ctx, contacts.Input{Name: "Toko Budi", Type: contacts.TypeCustomer})
	require.NoError(t, err)

	_, err = svc.Create(ctx, contacts.Input{Name: "X", Type: "VENDOR"})
	require.ErrorIs(t, err, shared.ErrValidation)

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, contacts.Summary{TotalCustomers: 1, TotalSuppliers: 1}, sum)
	require.Equal(t, []string{"contact:create", "contact:create"}, audit.Actions())
}

func TestUpdateKeepsTypeAndChecksNames(t *testing.T) {
	svc, _, _ := newService(contacts.BlockDelete)
	ctx := context.Background()
	a, err := svc.Create(ctx, contacts.Input{Name: "Andi", Type: contacts.TypeCustomer})
	require.NoError(t, err)
	_, err = svc.Create(ctx, contacts.Input{Name: "Budi", Type: contacts.TypeCustomer})
	require.NoError(t, err)

	taken := "BUDI"
	_, err = svc.Update(ctx, a.ID, contacts.Update{Name: &taken})
	require.ErrorIs(t, err, shared.ErrConflict)

	recased := "ANDI"
	phone := "0813"
	got, err := svc.Update(ctx, a.ID, contacts.Update{Name: &recased, Phone: &phone})
	require.NoError(t, err)
	require.Equal(t, "ANDI", got.Name)
	require.Equal(t, "0813", got.Phone)
	require.Equal(t, contacts.TypeCustomer, got.Type)

	blank := " "
	_, err = svc.Update(ctx, a.ID, contacts.Update{Name: &blank})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Update(ctx, uuid.New(), contacts.Update{Name: &recased})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteUnreferencedContact(t *testing.T) {
	svc, _, audit := newService(contacts.BlockDelete)
	ctx := context.Background()
	c, err := svc.Create(ctx, contacts.Input{Name: "Sekali", Type: contacts.TypeCustomer})
	require.NoError(t, err)

	archived, err := svc.Delete(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, archived)
	_, err = svc.Get(ctx, c.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Contains(t, audit.Actions(), "contact:delete")
}

func TestDeleteReferencedContactBlocked(t *testing.T) {
	svc, store, _ := newService(contacts.BlockDelete)
	ctx := context.Background()
	c, err := svc.Create(ctx, contacts.Input{Name: "Pemasok", Type: contacts.TypeSupplier})
	require.NoError(t, err)
	reference(t, store, c.ID)

	_, err = svc.Delete(ctx, c.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, got.Archived)
}

func TestDeleteReferencedContactArchived(t *testing.T) {
	svc, store, audit := newService(contacts.ArchiveDelete)
	ctx := context.Background()
	c, err := svc.Create(ctx, contacts.Input{Name: "Pemasok", Type: contacts.TypeSupplier})
	require.NoError(t, err)
	reference(t, store, c.ID)

	archived, err := svc.Delete(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, archived)
	require.Contains(t, audit.Actions(), "contact:archive")

	list, err := svc.List(ctx, contacts.Filter{})
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = svc.Delete(ctx, c.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	// the name is free again once the old contact is archived
	_, err = svc.Create(ctx, contacts.Input{Name: "Pemasok", Type: contacts.TypeSupplier})
	require.NoError(t, err)
}

func TestListFiltersByTypeAndSearch(t *testing.T) {
	svc, _, _ := newService(contacts.BlockDelete)
	ctx := context.Background()
	for _, in := range []contacts.Input{
		{Name: "Citra", Type: contacts.TypeCustomer, Phone: "0811"},
		{Name: "andi", Type: contacts.TypeCustomer},
		{Name: "Bumi Jaya", Type: contacts.TypeSupplier, Phone: "0822"},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	customers, err := svc.List(ctx, contacts.Filter{Type: contacts.TypeCustomer})
	require.NoError(t, err)
	require.Len(t, customers, 2)
	require.Equal(t, "andi", customers[0].Name)

	byPhone, err := svc.List(ctx, contacts.Filter{Search: "0822"})
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	require.Equal(t, "Bumi Jaya", byPhone[0].Name)
}

func TestResolveTx(t *testing.T) {
	svc, store, _ := newService(contacts.BlockDelete)
	ctx := context.Background()
	customer, err := svc.Create(ctx, contacts.Input{Name: "Pelanggan", Type: contacts.TypeCustomer})
	require.NoError(t, err)

	repo := store.Contacts()
	err = repo.WithTx(ctx, func(ctx context.Context, tx contacts.TxRepository) error {
		got, created, err := svc.ResolveTx(ctx, tx, &customer.ID, nil, contacts.TypeCustomer)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, customer.ID, got.ID)

		_, _, err = svc.ResolveTx(ctx, tx, &customer.ID, nil, contacts.TypeSupplier)
		require.ErrorIs(t, err, shared.ErrValidation)

		got, created, err = svc.ResolveTx(ctx, tx, nil, &contacts.Inline{Name: "PELANGGAN"}, contacts.TypeCustomer)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, customer.ID, got.ID)

		got, created, err = svc.ResolveTx(ctx, tx, nil, &contacts.Inline{Name: "Baru", Phone: "0899"}, contacts.TypeSupplier)
		require.NoError(t, err)
		require.True(t, created)
		require.Equal(t, contacts.TypeSupplier, got.Type)

		got, _, err = svc.ResolveTx(ctx, tx, nil, nil, contacts.TypeCustomer)
		require.NoError(t, err)
		require.Nil(t, got)
		return nil
	})
	require.NoError(t, err)

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.TotalSuppliers)
}

func TestParsePolicies(t *testing.T) {
	p, err := contacts.ParseDeletePolicy("")
	require.NoError(t, err)
	require.Equal(t, contacts.BlockDelete, p)
	_, err = contacts.ParseDeletePolicy("cascade")
	require.Error(t, err)

	typ, err := contacts.ParseType("supplier")
	require.NoError(t, err)
	require.Equal(t, contacts.TypeSupplier, typ)
	typ, err = contacts.ParseType("ALL")
	require.NoError(t, err)
	require.Empty(t, typ)
}
