package metrics

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/crystal-mush/nakedsun/pkg/hooks"
	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

func TestHookObserver(t *testing.T) {
	m := New(nil, Sources{}, time.Now())
	d := hooks.New(hooks.WithObserver(m), hooks.WithLogger(log.New(&bytes.Buffer{}, "", 0)))
	d.Register("look", func(*hooks.Call) error { return errors.New("broken") }, hooks.WithPriority(1))
	d.Register("look", func(*hooks.Call) error { return hooks.ErrStop })

	d.Run("look")
	d.Run("look")
	d.Run("nobody_listens")

	if got := testutil.ToFloat64(m.hookRuns.WithLabelValues("look")); got != 2 {
		t.Errorf("hook runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.handlerFailures.WithLabelValues("look")); got != 2 {
		t.Errorf("failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.hookStops.WithLabelValues("look")); got != 2 {
		t.Errorf("stops = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.hookRuns); n != 1 {
		t.Errorf("hook run series = %d, want 1", n)
	}
}

func TestAuxFailed(t *testing.T) {
	m := New(nil, Sources{}, time.Now())
	m.AuxFailed("character", "broken_aux")
	if got := testutil.ToFloat64(m.auxFailures.WithLabelValues("character", "broken_aux")); got != 1 {
		t.Errorf("aux failures = %v", got)
	}
}

type fakeStore struct {
	persist.Store
	fail bool
}

func (f *fakeStore) Put(string, string, *storage.Set) error {
	if f.fail {
		return errors.New("disk full")
	}
	return nil
}

func (f *fakeStore) Get(tag, key string) (*storage.Set, error) {
	return nil, persist.ErrNotFound
}

func TestStoreCounting(t *testing.T) {
	m := New(nil, Sources{}, time.Now())
	fs := &fakeStore{}
	st := m.Store(fs)
	st.Put("room", "a", storage.NewSet())
	fs.fail = true
	st.Put("room", "b", storage.NewSet())
	st.Get("room", "a")

	if got := testutil.ToFloat64(m.storeOps.WithLabelValues("put")); got != 2 {
		t.Errorf("put ops = %v", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("put")); got != 1 {
		t.Errorf("put errors = %v", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("get")); got != 1 {
		t.Errorf("get errors = %v", got)
	}
}

func TestHandlerServesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Sources{
		Entities:      func() map[string]int { return map[string]int{"room": 12} },
		PendingEvents: func() int { return 3 },
		Hooks:         func() int { return 5 },
	}, time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`nakedsun_entities{kind="room"} 12`,
		"nakedsun_pending_events 3",
		"nakedsun_hooks_registered 5",
		"nakedsun_uptime_seconds",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
