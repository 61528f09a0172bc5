package mixer

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-1, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.0001, 1},
		{math.Inf(1), 1},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		got := Clamp(tt.in)
		if got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if again := Clamp(got); again != got {
			t.Errorf("Clamp not idempotent for %v: %v then %v", tt.in, got, again)
		}
		if got < MinLevel || got > MaxLevel {
			t.Errorf("Clamp(%v) = %v outside range", tt.in, got)
		}
	}
}

func TestStateCacheLevels(t *testing.T) {
	c := NewStateCache()

	if _, ok := c.Level(1, 1); ok {
		t.Error("fresh cell reported as set")
	}
	if prev := c.SetLevel(1, 1, 0.4); prev != 0 {
		t.Errorf("first previous = %v, want 0", prev)
	}
	if prev := c.SetLevel(1, 1, 2); prev != 0.4 {
		t.Errorf("previous = %v, want 0.4", prev)
	}
	if level, _ := c.Level(1, 1); level != 1 {
		t.Errorf("stored level = %v, want clamped 1", level)
	}
	if prev := c.SetMasterLevel(2, 0.3); prev != 0 {
		t.Errorf("master previous = %v", prev)
	}
	if level, ok := c.MasterLevel(2); !ok || level != 0.3 {
		t.Errorf("master = %v, %v", level, ok)
	}
}

func TestStateCacheClearWrites(t *testing.T) {
	clock := newFakeClock()
	c := NewStateCache()
	g := &throttleGuard{cache: c, minInterval: DefaultMinWriteInterval, now: clock.Now}

	g.admit(1, 1, 0.5)
	g.admit(1, 2, 0.5)

	c.ClearWrites(1)
	if !c.LastWrite(1, 1).IsZero() {
		t.Error("bus 1 timestamp not cleared")
	}
	if c.LastWrite(1, 2).IsZero() {
		t.Error("bus 2 timestamp cleared by ClearWrites(1)")
	}

	c.ClearAllWrites()
	if !c.LastWrite(1, 2).IsZero() {
		t.Error("ClearAllWrites left a timestamp")
	}
	if level, _ := c.Level(1, 2); level != 0.5 {
		t.Errorf("ClearAllWrites changed level to %v", level)
	}
}

func TestThrottleGuardUnsetTimestampAlwaysAccepts(t *testing.T) {
	clock := newFakeClock()
	c := NewStateCache()
	c.SetLevel(3, 3, 0.2)
	g := &throttleGuard{cache: c, minInterval: DefaultMinWriteInterval, now: clock.Now}

	d := g.admit(3, 3, 0.6)
	if !d.accepted || d.level != 0.6 || d.previous != 0.2 {
		t.Errorf("decision = %+v", d)
	}
	if c.LastWrite(3, 3) != clock.Now() {
		t.Error("timestamp not recorded on accept")
	}

	clock.Advance(DefaultMinWriteInterval - 1)
	if d := g.admit(3, 3, 0.9); d.accepted || d.level != 0.6 {
		t.Errorf("decision inside interval = %+v", d)
	}

	clock.Advance(1)
	if d := g.admit(3, 3, 0.9); !d.accepted {
		t.Error("write at exactly the interval should be accepted")
	}
}

func TestResolveName(t *testing.T) {
	tests := []struct {
		name   string
		device string
		custom *CustomName
		want   string
	}{
		{"default", "", nil, "Channel 5"},
		{"custom used", "", &CustomName{ID: 5, CustomName: "Vocals", UseCustom: true}, "Vocals"},
		{"custom disabled", "", &CustomName{ID: 5, CustomName: "Vocals", UseCustom: false}, "Channel 5"},
		{"custom blank", "", &CustomName{ID: 5, CustomName: "  ", UseCustom: true}, "Channel 5"},
		{"device wins", "Lead Mic", &CustomName{ID: 5, CustomName: "Vocals", UseCustom: true}, "Lead Mic"},
		{"device only", "Lead Mic", nil, "Lead Mic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStateCache()
			if tt.device != "" {
				c.SetDeviceName(NameKindChannel, 5, tt.device)
			}
			if tt.custom != nil {
				c.ReplaceCustomNames(NameKindChannel, []CustomName{*tt.custom})
			}
			if got := c.ResolveName(NameKindChannel, 5); got != tt.want {
				t.Errorf("ResolveName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultNames(t *testing.T) {
	if got := DefaultName(NameKindBus, 4); got != "Bus 4" {
		t.Errorf("bus default = %q", got)
	}
	if got := DefaultName(NameKindChannel, 12); got != "Channel 12" {
		t.Errorf("channel default = %q", got)
	}
}

func TestParseNameKind(t *testing.T) {
	if k, err := ParseNameKind("Bus"); err != nil || k != NameKindBus {
		t.Errorf("ParseNameKind(Bus) = %v, %v", k, err)
	}
	if _, err := ParseNameKind("aux"); !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("ParseNameKind(aux) error = %v", err)
	}
	if err := NameKindBus.ValidateID(7); err == nil {
		t.Error("bus 7 should be invalid")
	}
	if err := NameKindChannel.ValidateID(16); err != nil {
		t.Errorf("channel 16 invalid: %v", err)
	}
}

func TestRefreshNamesKeepsDeviceNames(t *testing.T) {
	store := &mockNameStore{names: map[NameKind][]CustomName{
		NameKindChannel: {{ID: 1, CustomName: "Vocals", UseCustom: true}, {ID: 2, CustomName: "Guitar", UseCustom: true}},
		NameKindBus:     {{ID: 1, CustomName: "Singer", UseCustom: true}},
	}}
	e, err := NewEngine(Options{NameStore: store})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.cache.SetDeviceName(NameKindChannel, 2, "Strat")

	if err := e.RefreshNames(context.Background()); err != nil {
		t.Fatalf("RefreshNames() error = %v", err)
	}
	if got := e.ResolveName(NameKindChannel, 1); got != "Vocals" {
		t.Errorf("channel 1 = %q", got)
	}
	if got := e.ResolveName(NameKindChannel, 2); got != "Strat" {
		t.Errorf("channel 2 = %q, device name must win", got)
	}
	if got := e.ResolveName(NameKindBus, 1); got != "Singer" {
		t.Errorf("bus 1 = %q", got)
	}

	store.mu.Lock()
	store.names[NameKindChannel] = nil
	store.mu.Unlock()
	if err := e.RefreshNames(context.Background()); err != nil {
		t.Fatalf("RefreshNames() error = %v", err)
	}
	if got := e.ResolveName(NameKindChannel, 1); got != "Channel 1" {
		t.Errorf("channel 1 after removal = %q", got)
	}
	if got := e.ResolveName(NameKindChannel, 2); got != "Strat" {
		t.Errorf("refresh dropped device name: %q", got)
	}
}

func TestRefreshNamesErrorKeepsPrevious(t *testing.T) {
	store := &mockNameStore{names: map[NameKind][]CustomName{
		NameKindBus: {{ID: 3, CustomName: "Keys", UseCustom: true}},
	}}
	e, _ := NewEngine(Options{NameStore: store})
	e.RefreshNames(context.Background())

	store.mu.Lock()
	store.err = errors.New("database locked")
	store.mu.Unlock()

	if err := e.RefreshNames(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := e.ResolveName(NameKindBus, 3); got != "Keys" {
		t.Errorf("bus 3 = %q, previous custom name lost", got)
	}
}
