package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/collx/internal/ir"
)

func newShopRegistry(t *testing.T) *Registry {
	t.Helper()

	address := NewEntityMetadata("Address", "", "").
		MustAddProperty(&PropertyMetadata{Name: "city", Type: TypeString}).
		MustAddProperty(&PropertyMetadata{Name: "zipCode", Type: TypeString})

	customer := NewEntityMetadata("Customer", "customers", "id").
		MustAddProperty(&PropertyMetadata{Name: "id", Type: TypeInt}).
		MustAddProperty(&PropertyMetadata{Name: "name", Type: TypeString}).
		MustAddProperty(&PropertyMetadata{Name: "address", Embeddable: address}).
		MustAddProperty(&PropertyMetadata{Name: "orders", Relationship: &Relationship{Kind: OneHasMany, Entity: "Order", Property: "customer"}})

	order := NewEntityMetadata("Order", "orders", "id").
		MustAddProperty(&PropertyMetadata{Name: "id", Type: TypeInt}).
		MustAddProperty(&PropertyMetadata{Name: "customer", Relationship: &Relationship{Kind: ManyHasOne, Entity: "Customer"}}).
		MustAddProperty(&PropertyMetadata{Name: "products", Relationship: &Relationship{
			Kind: ManyHasMany, Entity: "Product", IsMain: true,
			Junction: &Junction{Table: "order_products", Column: "order_id", TargetColumn: "product_id"},
		}})

	product := NewEntityMetadata("Product", "products", "id").
		MustAddProperty(&PropertyMetadata{Name: "id", Type: TypeInt}).
		MustAddProperty(&PropertyMetadata{Name: "orders", Relationship: &Relationship{Kind: ManyHasMany, Entity: "Order", Property: "products"}})

	reg := NewRegistry()
	require.NoError(t, reg.AddEmbeddable(address))
	require.NoError(t, reg.AddEntity(customer))
	require.NoError(t, reg.AddEntity(order))
	require.NoError(t, reg.AddEntity(product))
	require.NoError(t, reg.Finalize())
	return reg
}

func TestRegistryFinalizeLinksRelationships(t *testing.T) {
	reg := newShopRegistry(t)
	assert.True(t, reg.IsFinalized())

	customer, err := reg.Entity("Customer")
	require.NoError(t, err)
	orders, err := customer.Property("orders")
	require.NoError(t, err)

	order, err := reg.Entity("Order")
	require.NoError(t, err)
	assert.Same(t, order, orders.Relationship.Metadata)
	assert.True(t, orders.Relationship.IsToMany())
}

func TestPropertyDefaults(t *testing.T) {
	reg := newShopRegistry(t)
	order, _ := reg.Entity("Order")

	id, err := order.Property("id")
	require.NoError(t, err)
	assert.True(t, id.IsPrimary)
	assert.True(t, id.IsScalar())

	customer, err := order.Property("customer")
	require.NoError(t, err)
	assert.Equal(t, "customer_id", customer.Column)
	assert.True(t, customer.Relationship.HoldsForeignKey())
}

func TestPropertyUnknown(t *testing.T) {
	reg := newShopRegistry(t)
	order, _ := reg.Entity("Order")

	_, err := order.Property("total")
	require.Error(t, err)
	assert.True(t, ir.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "Order::$total")
}

func TestColumnsFlattenEmbeddables(t *testing.T) {
	reg := newShopRegistry(t)
	customer, _ := reg.Entity("Customer")

	var names []string
	for _, c := range customer.Columns() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "name", "address_city", "address_zip_code"}, names)

	order, _ := reg.Entity("Order")
	names = nil
	for _, c := range order.Columns() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"id", "customer_id"}, names)
}

func TestJunctionFor(t *testing.T) {
	reg := newShopRegistry(t)

	order, _ := reg.Entity("Order")
	products, _ := order.Property("products")
	j, err := products.Relationship.JunctionFor()
	require.NoError(t, err)
	assert.Equal(t, &Junction{Table: "order_products", Column: "order_id", TargetColumn: "product_id"}, j)

	product, _ := reg.Entity("Product")
	orders, _ := product.Property("orders")
	j, err = orders.Relationship.JunctionFor()
	require.NoError(t, err)
	assert.Equal(t, &Junction{Table: "order_products", Column: "product_id", TargetColumn: "order_id"}, j)
}

func TestFinalizeErrors(t *testing.T) {
	tests := []struct {
		name    string
		prop    *PropertyMetadata
		wantErr string
	}{
		{
			name:    "unknown target",
			prop:    &PropertyMetadata{Name: "owner", Relationship: &Relationship{Kind: ManyHasOne, Entity: "Nobody"}},
			wantErr: "unknown entity",
		},
		{
			name:    "one_has_many without reverse",
			prop:    &PropertyMetadata{Name: "items", Relationship: &Relationship{Kind: OneHasMany, Entity: "Thing"}},
			wantErr: "requires a reverse property",
		},
		{
			name:    "reverse is not a relationship",
			prop:    &PropertyMetadata{Name: "items", Relationship: &Relationship{Kind: OneHasMany, Entity: "Thing", Property: "label"}},
			wantErr: "does not exist",
		},
		{
			name:    "main many_has_many without junction",
			prop:    &PropertyMetadata{Name: "tags", Relationship: &Relationship{Kind: ManyHasMany, Entity: "Thing", IsMain: true}},
			wantErr: "requires a junction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thing := NewEntityMetadata("Thing", "things", "id").
				MustAddProperty(&PropertyMetadata{Name: "id", Type: TypeInt}).
				MustAddProperty(&PropertyMetadata{Name: "label", Type: TypeString})
			box := NewEntityMetadata("Box", "boxes", "id").
				MustAddProperty(&PropertyMetadata{Name: "id", Type: TypeInt}).
				MustAddProperty(tt.prop)

			reg := NewRegistry()
			require.NoError(t, reg.AddEntity(thing))
			require.NoError(t, reg.AddEntity(box))

			err := reg.Finalize()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuplicates(t *testing.T) {
	m := NewEntityMetadata("Thing", "things", "id")
	require.NoError(t, m.AddProperty(&PropertyMetadata{Name: "id", Type: TypeInt}))
	assert.Error(t, m.AddProperty(&PropertyMetadata{Name: "id", Type: TypeInt}))

	reg := NewRegistry()
	require.NoError(t, reg.AddEntity(m))
	assert.Error(t, reg.AddEntity(m))

	_, err := reg.Entity("Missing")
	assert.True(t, ir.IsInvalidArgument(err))
}

func TestRecord(t *testing.T) {
	r := NewRecord("Customer", map[string]any{"id": int64(1), "name": nil})

	assert.Equal(t, "Customer", r.EntityName())
	assert.True(t, r.HasValue("name"))
	assert.Nil(t, r.GetValue("name"))
	assert.False(t, r.HasValue("missing"))

	var nilRecord *Record
	assert.False(t, nilRecord.HasValue("id"))
	assert.Nil(t, nilRecord.GetValue("id"))
	assert.Equal(t, "", nilRecord.EntityName())

	order := NewRecord("Order", map[string]any{"id": int64(7)})
	r.Append("orders", order)
	related, err := Related(r.GetValue("orders"))
	require.NoError(t, err)
	assert.Equal(t, []Entity{order}, related)
}

func TestIsInstance(t *testing.T) {
	reg := newShopRegistry(t)
	customer, _ := reg.Entity("Customer")

	assert.True(t, customer.IsInstance(NewRecord("Customer", nil)))
	assert.False(t, customer.IsInstance(NewRecord("Order", nil)))
	assert.False(t, customer.IsInstance(nil))
	assert.False(t, customer.IsInstance(Values{}))
}

func TestRelated(t *testing.T) {
	a := NewRecord("Order", nil)
	b := NewRecord("Order", nil)

	got, err := Related([]any{a, nil, b})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = Related([]*Record{a, nil})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = Related(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Related([]any{"not an entity"})
	assert.True(t, ir.IsInvalidArgument(err))

	_, err = Related(42)
	assert.True(t, ir.IsInvalidArgument(err))
}

func TestToUnix(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input any
		want  int64
	}{
		{"time", ts, ts.Unix()},
		{"rfc3339", "2024-03-01T12:00:00Z", ts.Unix()},
		{"date only", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix()},
		{"unix seconds", int64(1700000000), 1700000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToUnix(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ToUnix("yesterday")
	assert.True(t, ir.IsInvalidArgument(err))
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "published_at", SnakeCase("publishedAt"))
	assert.Equal(t, "id", SnakeCase("id"))
	assert.Equal(t, "zip_code", SnakeCase("zipCode"))
}
