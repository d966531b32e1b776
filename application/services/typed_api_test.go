package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instancegraph/domain/core/entities"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
)

type Person struct {
	ID       string
	Name     string
	Employer string
}

var personCodec = CodecFuncs[Person]{
	EncodeFunc: func(p Person) (*entities.DomainObject, error) {
		obj := entities.NewDomainObject(valueobjects.MustEntityRef("people", p.ID), "Person").
			WithProperty("name", p.Name)
		if p.Employer != "" {
			obj.Relate("employer", worksAt, entities.RefValue(valueobjects.MustEntityRef("companies", p.Employer)))
		}
		return obj, nil
	},
	DecodeFunc: func(obj *entities.DomainObject) (Person, error) {
		name, ok := obj.Properties["name"].(string)
		if !ok {
			return Person{}, fmt.Errorf("name is %T", obj.Properties["name"])
		}
		p := Person{ID: obj.Ref.ExternalID, Name: name}
		if refs := obj.Relation("employer").Refs(); len(refs) > 0 {
			p.Employer = refs[0].ExternalID
		}
		return p, nil
	},
}

func TestTypedAPI(t *testing.T) {
	api := NewTypedAPI[Person](newTestService(t, nil), personCodec)
	ctx := context.Background()

	_, err := api.Apply(ctx, []Person{
		{ID: "alice", Name: "Alice", Employer: "acme"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
	}, ApplyOptions{})
	require.NoError(t, err)

	got, err := api.Retrieve(ctx, []string{"alice"}, valueobjects.FidelityIdentifier)
	require.NoError(t, err)
	assert.Equal(t, []Person{{ID: "alice", Name: "Alice", Employer: "acme"}}, got)

	q := ListQuery{Sort: []filters.Sort{{Property: filters.Prop("name"), Descending: true}}, Limit: 2}
	page, cursors, err := api.List(ctx, q, valueobjects.FidelitySkip)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Carol", page[0].Name)

	it, err := api.Iterate(q, valueobjects.FidelitySkip, cursors)
	require.NoError(t, err)
	rest, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Person{{ID: "alice", Name: "Alice"}}, rest)
	assert.True(t, it.Done())
	assert.True(t, it.Cursors().Exhausted())

	deleted, err := api.Delete(ctx, []string{"bob"})
	require.NoError(t, err)
	assert.Len(t, deleted.Deleted, 1)

	t.Run("decode errors surface", func(t *testing.T) {
		_, err := api.Service().Apply(ctx, []*entities.DomainObject{
			entities.NewDomainObject(valueobjects.MustEntityRef("people", "dave"), "Person").WithProperty("name", 7),
		}, ApplyOptions{})
		require.NoError(t, err)
		_, err = api.Retrieve(ctx, []string{"dave"}, valueobjects.FidelitySkip)
		assert.Error(t, err)
	})
}
