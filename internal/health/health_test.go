package health

import (
	"context"
	"errors"
	"testing"

	"adbot/internal/storage"
	"adbot/internal/transport/transporttest"
	logx "adbot/pkg/logx"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	ctx := context.Background()
	_ = st.AddOrUpdateGroup(ctx, -1, "one")
	_ = st.AddOrUpdateGroup(ctx, -2, "two")
	_ = st.IncrementDeletedSpam(ctx, -1)
	a, _ := st.AddAdvertisement(ctx, "a")
	_, _ = st.AddAdvertisement(ctx, "b")
	_, _ = st.ToggleAdvertisement(ctx, a.ID)
	return st
}

type brokenStore struct{ storage.Store }

func (brokenStore) GetAllStatistics(context.Context) ([]storage.ChatStatistics, error) {
	return nil, errors.New("disk gone")
}

func TestCheck(t *testing.T) {
	t.Parallel()
	st := newStore(t)
	small := WithHeapProbe(func() uint64 { return 10 })

	tests := []struct {
		name   string
		client func() *transporttest.Client
		store  Store
		opts   []Option
		want   Status
	}{
		{"healthy", transporttest.New, st, []Option{small}, Healthy},
		{"high memory", transporttest.New, st, []Option{WithHeapProbe(func() uint64 { return 501 })}, Degraded},
		{"open circuit", transporttest.New, st, []Option{small, WithCircuits(func() []string { return []string{"telegram.ads"} })}, Degraded},
		{"platform down", func() *transporttest.Client {
			c := transporttest.New()
			c.FailSelf(errors.New("unauthorized"))
			return c
		}, st, []Option{small}, Unhealthy},
		{"storage down", transporttest.New, brokenStore{st}, []Option{small}, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := New(tt.client(), tt.store, tt.opts...).Check(context.Background())
			if rep.Status != tt.want {
				t.Fatalf("Status = %v, want %v (%s, err=%v)", rep.Status, tt.want, rep.Message, rep.Err)
			}
			if tt.want == Unhealthy {
				if rep.Err == nil {
					t.Fatalf("Err = nil for unhealthy report")
				}
				return
			}
			if rep.BotUsername != "adbot" || rep.ActiveGroups != 2 || rep.StatsRows != 1 || rep.TotalAds != 2 || rep.ActiveAds != 1 {
				t.Fatalf("report = %+v", rep)
			}
		})
	}
}
