package upgrade

import (
	"context"
	"database/sql"
	"testing"
)

func TestBackfillHookRegistered(t *testing.T) {
	for _, h := range dataHooks {
		if h.name == "002_backfill_contact_channel_ids" {
			if h.version != 2 {
				t.Errorf("hook version = %d, want 2", h.version)
			}
			return
		}
	}
	t.Fatal("contact channel id backfill hook not registered")
}

func TestRegisterDataHookKeepsOrder(t *testing.T) {
	saved := dataHooks
	t.Cleanup(func() { dataHooks = saved })
	dataHooks = nil

	noop := func(context.Context, *sql.DB) error { return nil }
	RegisterDataHook(3, "003_first", noop)
	RegisterDataHook(3, "003_second", noop)

	if len(dataHooks) != 2 || dataHooks[0].name != "003_first" || dataHooks[1].name != "003_second" {
		t.Errorf("hooks = %+v, registration order must hold", dataHooks)
	}
}
