package dispatch

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/internal/domain/tier"
	"github.com/keytempo/fanout/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeConns struct {
	conns []Connection
}

func (f *fakeConns) All(_ context.Context) []Connection {
	return f.conns
}

type fakeActive struct {
	ids map[string]struct{}
	err error
}

func (f *fakeActive) ActiveUserIDs(_ context.Context) (map[string]struct{}, error) {
	return f.ids, f.err
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []model.Update
}

func (f *fakeTransport) Broadcast(_ context.Context, u model.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, u)
}

func (f *fakeTransport) all() []model.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Update, len(f.sent))
	copy(out, f.sent)
	return out
}

func conn(id, userID string, topic model.Topic, t model.Tier) Connection {
	return Connection{
		ID:     id,
		Record: &model.SubscriberRecord{UserID: userID, Topic: topic, Tier: t},
	}
}

func testDelta(topic model.Topic, changes ...model.Change) model.Delta {
	return model.Delta{
		Topic:     topic,
		Version:   1,
		Timestamp: time.Now(),
		Changes:   changes,
		TopN:      10,
	}
}

func TestDispatchDelta(t *testing.T) {
	ctx := context.Background()
	topic := model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}

	Convey("Given a dispatcher with one subscriber per tier", t, func() {
		conns := &fakeConns{conns: []Connection{
			conn("c1", "alice", topic, model.TierObserver),
			conn("c2", "bob", topic, model.TierObserver),
			conn("c3", "", topic, model.TierObserver),
		}}
		active := &fakeActive{ids: map[string]struct{}{"alice": {}}}
		transport := &fakeTransport{}
		d := New(conns, active, transport)

		Convey("When a two-change delta is dispatched", func() {
			delta := testDelta(topic,
				model.Change{UserID: "u1", NewRank: 1, Type: model.ChangeNew},
				model.Change{UserID: "u2", NewRank: 2, Type: model.ChangeNew},
			)
			d.DispatchDelta(ctx, delta)

			Convey("Then only the active subscriber gets an immediate push", func() {
				sent := transport.all()
				So(sent, ShouldHaveLength, 1)
				So(sent[0].Change.UserID, ShouldEqual, "u1")
				So(sent[0].Topic, ShouldResemble, topic)
			})

			Convey("Then the deferred tiers accumulated the delta", func() {
				stats := d.Stats(ctx)
				So(stats.DeliveredActive, ShouldEqual, 1)
				So(stats.ObserverKeys, ShouldEqual, 1)
				// bob has no recent activity and the anonymous viewer
				// never classifies above observer; the delta is
				// accumulated once per deferred connection.
				So(stats.ObserverItems, ShouldEqual, 2)
				So(stats.PassiveItems, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a subscriber on a different topic", t, func() {
		other := model.Topic{Mode: "practice", Timeframe: "daily", Language: "en"}
		conns := &fakeConns{conns: []Connection{conn("c1", "alice", other, model.TierActive)}}
		active := &fakeActive{ids: map[string]struct{}{"alice": {}}}
		transport := &fakeTransport{}
		d := New(conns, active, transport)

		Convey("When a delta for another topic is dispatched, nothing is delivered", func() {
			d.DispatchDelta(ctx, testDelta(topic, model.Change{UserID: "u1", NewRank: 1}))
			So(transport.all(), ShouldBeEmpty)
			So(d.Stats(ctx).ObserverItems, ShouldEqual, 0)
		})
	})

	Convey("Given a connection that has not subscribed yet", t, func() {
		conns := &fakeConns{conns: []Connection{{ID: "c1"}}}
		transport := &fakeTransport{}
		d := New(conns, &fakeActive{}, transport)

		Convey("When a delta is dispatched, the connection is skipped", func() {
			d.DispatchDelta(ctx, testDelta(topic, model.Change{UserID: "u1", NewRank: 1}))
			So(transport.all(), ShouldBeEmpty)
		})
	})

	Convey("Given a subscriber whose timeframe is the wildcard", t, func() {
		wild := model.Topic{Mode: "race", Timeframe: model.TimeframeAll, Language: "en"}
		conns := &fakeConns{conns: []Connection{conn("c1", "alice", wild, model.TierObserver)}}
		active := &fakeActive{ids: map[string]struct{}{"alice": {}}}
		transport := &fakeTransport{}
		d := New(conns, active, transport)

		Convey("When a daily delta is dispatched, the wildcard matches", func() {
			d.DispatchDelta(ctx, testDelta(topic, model.Change{UserID: "u1", NewRank: 1}))
			So(transport.all(), ShouldHaveLength, 1)
		})
	})

	Convey("Given an active delta with no changes", t, func() {
		conns := &fakeConns{conns: []Connection{conn("c1", "alice", topic, model.TierActive)}}
		active := &fakeActive{ids: map[string]struct{}{"alice": {}}}
		transport := &fakeTransport{}
		d := New(conns, active, transport)

		Convey("When dispatched, the removal-only delta produces no fast-path push", func() {
			d.DispatchDelta(ctx, model.Delta{Topic: topic, Removed: []string{"gone"}})
			So(transport.all(), ShouldBeEmpty)
			So(d.Stats(ctx).DeliveredActive, ShouldEqual, 0)
		})
	})
}

func TestDispatchFallsBackToRecency(t *testing.T) {
	ctx := context.Background()
	topic := model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}

	Convey("Given the active-user lookup fails", t, func() {
		now := time.Now()
		ledger := tier.NewLedger(tier.WithLedgerClock(func() time.Time { return now }))
		conns := &fakeConns{conns: []Connection{conn("c1", "alice", topic, model.TierObserver)}}
		active := &fakeActive{err: context.DeadlineExceeded}
		transport := &fakeTransport{}
		d := New(conns, active, transport, WithLedger(ledger))

		Convey("When the subscriber submitted a score recently", func() {
			d.RecordActivity(ctx, "alice")
			d.DispatchDelta(ctx, testDelta(topic, model.Change{UserID: "u1", NewRank: 1}))

			Convey("Then recency alone classifies them active", func() {
				So(transport.all(), ShouldHaveLength, 1)
				So(d.Stats(ctx).DeliveredActive, ShouldEqual, 1)
			})
		})

		Convey("When the subscriber has no recorded activity", func() {
			d.DispatchDelta(ctx, testDelta(topic, model.Change{UserID: "u1", NewRank: 1}))

			Convey("Then they fall through to a deferred tier", func() {
				So(transport.all(), ShouldBeEmpty)
				So(d.Stats(ctx).ObserverItems, ShouldEqual, 1)
			})
		})
	})
}

func TestDispatchUpdate(t *testing.T) {
	ctx := context.Background()
	topic := model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}

	Convey("Given a pre-formed single update", t, func() {
		conns := &fakeConns{conns: []Connection{conn("c1", "alice", topic, model.TierActive)}}
		active := &fakeActive{ids: map[string]struct{}{"alice": {}}}
		transport := &fakeTransport{}
		d := New(conns, active, transport)

		Convey("When dispatched, it behaves like a one-change delta", func() {
			u := model.Update{
				Topic:     topic,
				Change:    model.Change{UserID: "u1", NewRank: 3, Type: model.ChangeImproved},
				TopN:      10,
				Timestamp: time.Now(),
			}
			d.DispatchUpdate(ctx, u)

			sent := transport.all()
			So(sent, ShouldHaveLength, 1)
			So(sent[0].Change, ShouldResemble, u.Change)
		})
	})
}

func TestFlushTier(t *testing.T) {
	ctx := context.Background()
	topic := model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}

	Convey("Given accumulated deltas for a passive subscriber", t, func() {
		now := time.Now()
		ledger := tier.NewLedger(tier.WithLedgerClock(func() time.Time { return now }))
		conns := &fakeConns{conns: []Connection{conn("c1", "bob", topic, model.TierPassive)}}
		transport := &fakeTransport{}
		d := New(conns, &fakeActive{}, transport, WithLedger(ledger))

		// Seen 10 minutes ago: inside the passive window, outside active.
		ledger.Record(ctx, "bob")
		now = now.Add(10 * time.Minute)

		d.DispatchDelta(ctx, testDelta(topic,
			model.Change{UserID: "u1", NewRank: 5, Type: model.ChangeNew},
		))
		d.DispatchDelta(ctx, testDelta(topic,
			model.Change{UserID: "u1", NewRank: 2, Type: model.ChangeImproved},
			model.Change{UserID: "u2", NewRank: 7, Type: model.ChangeNew},
		))
		So(transport.all(), ShouldBeEmpty)
		So(d.Stats(ctx).PassiveItems, ShouldEqual, 2)

		Convey("When the passive tier flushes", func() {
			d.FlushTier(ctx, model.TierPassive)

			Convey("Then the merged change set replays one update per survivor", func() {
				sent := transport.all()
				So(sent, ShouldHaveLength, 2)
				So(sent[0].Change.UserID, ShouldEqual, "u1")
				So(sent[0].Change.NewRank, ShouldEqual, 2)
				So(sent[1].Change.UserID, ShouldEqual, "u2")
			})

			Convey("Then the pending store is empty and counters advanced", func() {
				stats := d.Stats(ctx)
				So(stats.PassiveItems, ShouldEqual, 0)
				So(stats.PassiveKeys, ShouldEqual, 0)
				So(stats.DeliveredPassive, ShouldEqual, 2)
			})

			Convey("Then flushing again is a no-op", func() {
				before := len(transport.all())
				d.FlushTier(ctx, model.TierPassive)
				So(transport.all(), ShouldHaveLength, before)
			})
		})
	})

	Convey("Flushing an unknown tier does nothing", t, func() {
		transport := &fakeTransport{}
		d := New(&fakeConns{}, &fakeActive{}, transport)
		d.FlushTier(ctx, model.TierActive)
		So(transport.all(), ShouldBeEmpty)
	})
}

func TestAccumulationBounds(t *testing.T) {
	ctx := context.Background()
	topic := model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}

	Convey("Given a dispatcher with a tight per-topic bound", t, func() {
		conns := &fakeConns{conns: []Connection{conn("c1", "", topic, model.TierObserver)}}
		transport := &fakeTransport{}
		d := New(conns, &fakeActive{}, transport, WithMaxAccumulated(3))

		Convey("When more deltas arrive than the bound allows", func() {
			for i := 0; i < 5; i++ {
				d.DispatchDelta(ctx, testDelta(topic, model.Change{UserID: "u1", NewRank: i + 1}))
			}

			Convey("Then the overflow is counted as dropped", func() {
				stats := d.Stats(ctx)
				So(stats.ObserverItems, ShouldEqual, 3)
				So(stats.Dropped, ShouldEqual, 2)
			})
		})
	})
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	topic := model.Topic{Mode: "race", Timeframe: "daily", Language: "en"}

	Convey("Given a started dispatcher with pending observer deltas", t, func() {
		conns := &fakeConns{conns: []Connection{conn("c1", "", topic, model.TierObserver)}}
		transport := &fakeTransport{}
		d := New(conns, &fakeActive{}, transport,
			WithPassiveFlushInterval(time.Hour),
			WithObserverFlushInterval(time.Hour),
		)
		d.Start(ctx)
		So(d.Stats(ctx).Running, ShouldBeTrue)

		d.DispatchDelta(ctx, testDelta(topic, model.Change{UserID: "u1", NewRank: 1}))
		So(transport.all(), ShouldBeEmpty)

		Convey("When stopped, buffered deltas are flushed before exit", func() {
			d.Stop(ctx)
			So(d.Stats(ctx).Running, ShouldBeFalse)
			So(transport.all(), ShouldHaveLength, 1)
			So(d.Stats(ctx).ObserverItems, ShouldEqual, 0)

			Convey("And stopping again is safe", func() {
				d.Stop(ctx)
				So(transport.all(), ShouldHaveLength, 1)
			})
		})

		Convey("When started twice, the second call is ignored", func() {
			d.Start(ctx)
			d.Stop(ctx)
			So(d.Stats(ctx).Running, ShouldBeFalse)
		})
	})
}
