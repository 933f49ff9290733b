package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keytempo/fanout/internal/domain/model"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	topic := model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}

	t.Run("register and snapshot", func(t *testing.T) {
		r := New()
		rec := &model.SubscriberRecord{UserID: "alice", Topic: topic, Tier: model.TierPassive}
		r.Register(ctx, "c1", rec)

		require.Equal(t, 1, r.Len())
		all := r.All(ctx)
		require.Len(t, all, 1)
		assert.Equal(t, "c1", all[0].ID)
		assert.Same(t, rec, all[0].Record)
	})

	t.Run("record may arrive after the connection", func(t *testing.T) {
		r := New()
		r.Register(ctx, "c1", nil)
		require.Len(t, r.All(ctx), 1)
		assert.Nil(t, r.All(ctx)[0].Record)

		rec := &model.SubscriberRecord{UserID: "alice", Topic: topic}
		r.Register(ctx, "c1", rec)
		require.Equal(t, 1, r.Len())
		assert.Same(t, rec, r.All(ctx)[0].Record)
	})

	t.Run("unregister", func(t *testing.T) {
		r := New()
		r.Register(ctx, "c1", &model.SubscriberRecord{UserID: "alice", Topic: topic})
		r.Unregister(ctx, "c1")
		assert.Equal(t, 0, r.Len())
		assert.Empty(t, r.All(ctx))
	})

	t.Run("unregister unknown id is a no-op", func(t *testing.T) {
		r := New()
		r.Register(ctx, "c1", &model.SubscriberRecord{UserID: "alice", Topic: topic})
		r.Unregister(ctx, "nope")
		assert.Equal(t, 1, r.Len())
	})
}
