package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"procresolver/internal/store"
	"procresolver/pkg/models"
)

func creation(id, parent, kind string, ts time.Time) models.Event {
	return models.Event{
		EventID:        kind + "-" + id,
		EntityID:       models.EntityID(id),
		ParentEntityID: models.EntityID(parent),
		Category:       models.CategoryProcess,
		Kind:           kind,
		Timestamp:      ts,
	}
}

func TestChildLinkFollowsEarliestCreation(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.AddEvents(creation("c1", "p2", models.KindExec, base.Add(10*time.Second)))
	s.AddEvents(creation("c1", "p1", models.KindStart, base.Add(time.Second)))
	s.AddEvents(creation("c1", "p3", models.KindAlreadyRunning, base.Add(time.Hour)))

	got, err := s.Children(ctx, store.ChildrenQuery{Parent: "p1", Until: base.Add(5 * time.Second), Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []models.ChildRef{{EntityID: "c1", Key: models.KeyFor(base.Add(time.Second), "c1")}}, got)

	for _, parent := range []models.EntityID{"p2", "p3"} {
		other, err := s.Children(ctx, store.ChildrenQuery{Parent: parent, Until: base.Add(2 * time.Hour), Limit: 10})
		require.NoError(t, err)
		require.Empty(t, other, parent)
	}

	lc, err := s.Lifecycle(ctx, []models.EntityID{"c1"}, 10)
	require.NoError(t, err)
	node, ok := models.BuildNode("c1", lc["c1"])
	require.True(t, ok)
	require.Equal(t, models.EntityID("p1"), node.ParentEntityID)
}
