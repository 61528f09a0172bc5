package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/nerrad567/xrmonitor-core/internal/auth"
	"github.com/nerrad567/xrmonitor-core/internal/mixer"
)

func TestListNames(t *testing.T) {
	env := testServer(t)
	_, admin := env.seedUser(t, "boss", auth.RoleAdmin)

	if err := env.names.SetName(context.Background(), mixer.NameKindChannel, 3, "Kick", true); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/names", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Channels []nameEntry `json:"channels"`
		Buses    []nameEntry `json:"buses"`
	}
	decodeBody(t, w, &resp)

	if len(resp.Channels) != mixer.NumChannels || len(resp.Buses) != mixer.NumBuses {
		t.Fatalf("got %d channels and %d buses", len(resp.Channels), len(resp.Buses))
	}
	kick := resp.Channels[2]
	if kick.ID != 3 || kick.CustomName != "Kick" || !kick.UseCustom {
		t.Errorf("channel 3 = %+v", kick)
	}
	if resp.Buses[1].Default != "Bus 2" || resp.Buses[1].CustomName != "" {
		t.Errorf("bus 2 = %+v", resp.Buses[1])
	}
}

func TestSetName(t *testing.T) {
	env := testServer(t)
	_, admin := env.seedUser(t, "boss", auth.RoleAdmin)
	ctx := context.Background()

	w := env.do(t, http.MethodPut, "/api/v1/names/bus/2", admin, map[string]any{"custom_name": "Drums IEM"})
	if w.Code != http.StatusOK {
		t.Fatalf("set name = %d, body %s", w.Code, w.Body.String())
	}
	stored, err := env.names.GetNames(ctx, mixer.NameKindBus)
	if err != nil {
		t.Fatalf("GetNames: %v", err)
	}
	if len(stored) != 1 || stored[0].CustomName != "Drums IEM" || !stored[0].UseCustom {
		t.Errorf("stored = %+v, want enabled custom name", stored)
	}

	w = env.do(t, http.MethodPut, "/api/v1/names/bus/2", admin, map[string]any{"use_custom": false})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle = %d", w.Code)
	}
	stored, _ = env.names.GetNames(ctx, mixer.NameKindBus)
	if len(stored) != 1 || stored[0].UseCustom || stored[0].CustomName != "Drums IEM" {
		t.Errorf("after toggle = %+v", stored)
	}

	if got := env.mixer.Refreshes(); got != 2 {
		t.Errorf("engine refreshed %d times, want 2", got)
	}
}

func TestSetNameErrors(t *testing.T) {
	env := testServer(t)
	_, admin := env.seedUser(t, "boss", auth.RoleAdmin)
	_, regular := env.seedUser(t, "keys", auth.RoleRegular, 1)

	tests := []struct {
		name  string
		path  string
		token string
		body  any
		want  int
	}{
		{"regular user", "/api/v1/names/channel/1", regular, map[string]any{"custom_name": "Vox"}, http.StatusForbidden},
		{"unknown kind", "/api/v1/names/fx/1", admin, map[string]any{"custom_name": "Verb"}, http.StatusBadRequest},
		{"channel out of range", "/api/v1/names/channel/17", admin, map[string]any{"custom_name": "Vox"}, http.StatusBadRequest},
		{"bus out of range", "/api/v1/names/bus/7", admin, map[string]any{"custom_name": "Vox"}, http.StatusBadRequest},
		{"empty body", "/api/v1/names/channel/1", admin, map[string]any{}, http.StatusBadRequest},
		{"toggle missing name", "/api/v1/names/channel/1", admin, map[string]any{"use_custom": true}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, tt.path, tt.token, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if got := env.mixer.Refreshes(); got != 0 {
		t.Errorf("engine refreshed %d times after failed writes", got)
	}
}

func TestDeleteName(t *testing.T) {
	env := testServer(t)
	_, admin := env.seedUser(t, "boss", auth.RoleAdmin)

	if err := env.names.SetName(context.Background(), mixer.NameKindChannel, 9, "Bass DI", true); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	w := env.do(t, http.MethodDelete, "/api/v1/names/channel/9", admin, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", w.Code)
	}
	if env.mixer.Refreshes() != 1 {
		t.Errorf("engine refreshed %d times, want 1", env.mixer.Refreshes())
	}

	w = env.do(t, http.MethodDelete, "/api/v1/names/channel/9", admin, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestSetNameRefreshFailureStillSucceeds(t *testing.T) {
	env := testServer(t)
	_, admin := env.seedUser(t, "boss", auth.RoleAdmin)
	env.mixer.refreshFn = func() error { return mixer.ErrNotConnected }

	w := env.do(t, http.MethodPut, "/api/v1/names/channel/4", admin, map[string]any{"custom_name": "Snare"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when only the refresh fails", w.Code)
	}
}
