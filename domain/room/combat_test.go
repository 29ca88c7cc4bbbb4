package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edisonsu0623/krunker-game-backend/protocol"
)

func TestArenaScenario(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	first := mustJoin(t, c, "r1", "p1", "A")
	if first.Room.HostID != "p1" || first.Player.Health != 100 {
		t.Fatalf("unexpected first join %+v", first)
	}
	second := mustJoin(t, c, "r1", "p2", "B")
	if len(second.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(second.Players))
	}

	res, err := c.Hit(ctx, "p2", "p1", 150)
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if !res.IsKill || res.TargetHealth != 0 {
		t.Fatalf("hit result = %+v, want kill with health 0", res)
	}
	if res.ShooterScore.Kills != 1 || res.TargetScore.Deaths != 1 {
		t.Fatalf("scores = %+v / %+v", res.ShooterScore, res.TargetScore)
	}
	p1 := findPlayer(t, mustView(t, c, "r1"), "p1")
	if p1.IsAlive || p1.Health != 0 {
		t.Fatalf("p1 = %+v, want dead", p1)
	}

	b := rec.waitFor(t, protocol.MsgPlayerRespawn)
	if got := b.Payload.(Respawned); got.PlayerID != "p1" || got.Health != 100 || got.Position != SpawnPoint {
		t.Fatalf("respawn payload = %+v", got)
	}
	p1 = findPlayer(t, mustView(t, c, "r1"), "p1")
	if !p1.IsAlive || p1.Health != 100 || p1.Position != SpawnPoint {
		t.Fatalf("p1 after respawn = %+v", p1)
	}

	leave, err := c.Leave(ctx, "p1")
	if err != nil {
		t.Fatalf("leave p1: %v", err)
	}
	if leave.NewHostID != "p2" {
		t.Fatalf("new host = %q, want p2", leave.NewHostID)
	}
	if _, err := c.Leave(ctx, "p2"); err != nil {
		t.Fatalf("leave p2: %v", err)
	}
	rooms, err := c.ListRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	for _, r := range rooms {
		if r.ID == "r1" {
			t.Fatalf("room r1 still listed")
		}
	}
}

func TestHitReducesHealthWithoutKill(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")

	res, err := c.Hit(ctx, "p1", "p2", 30)
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if res.IsKill || res.TargetHealth != 70 || res.Damage != 30 {
		t.Fatalf("hit result = %+v", res)
	}
	b := rec.waitFor(t, protocol.MsgPlayerHit)
	if len(b.Recipients) != 2 {
		t.Fatalf("playerHit recipients = %v, want whole room", b.Recipients)
	}
	p2 := findPlayer(t, mustView(t, c, "r1"), "p2")
	if p2.Health != 70 || !p2.IsAlive {
		t.Fatalf("p2 = %+v", p2)
	}
}

func TestDeadTargetCannotBeHitAgain(t *testing.T) {
	c, _ := newTestCoordinator(t, WithRespawnDelay(time.Hour))
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")

	if _, err := c.Hit(ctx, "p1", "p2", 100); err != nil {
		t.Fatalf("hit: %v", err)
	}
	_, err := c.Hit(ctx, "p1", "p2", 10)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("err = %v, want ErrInvalidTarget", err)
	}
	v := mustView(t, c, "r1")
	if s := findPlayer(t, v, "p1").Score; s.Kills != 1 {
		t.Fatalf("kills = %d, want 1", s.Kills)
	}
	if s := findPlayer(t, v, "p2").Score; s.Deaths != 1 {
		t.Fatalf("deaths = %d, want 1", s.Deaths)
	}
	if v.Scores["p1"].Kills != 1 || v.Scores["p2"].Deaths != 1 {
		t.Fatalf("ledger = %+v", v.Scores)
	}
}

func TestConcurrentHitsCreditOneKill(t *testing.T) {
	c, _ := newTestCoordinator(t, WithRespawnDelay(time.Hour))
	ctx := context.Background()

	mustJoin(t, c, "r1", "target", "")
	shooters := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"}
	for _, id := range shooters {
		mustJoin(t, c, "r1", id, "")
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		kills int
	)
	for _, id := range shooters {
		wg.Add(1)
		go func(shooter string) {
			defer wg.Done()
			res, err := c.Hit(ctx, shooter, "target", 100)
			if err != nil {
				if !IsBenign(err) {
					t.Errorf("hit from %s: %v", shooter, err)
				}
				return
			}
			if res.IsKill {
				mu.Lock()
				kills++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if kills != 1 {
		t.Fatalf("kills credited = %d, want 1", kills)
	}
	v := mustView(t, c, "r1")
	total := 0
	for _, p := range v.Players {
		total += p.Score.Kills
		if p.Health < 0 || p.Health > MaxHealth || p.IsAlive != (p.Health > 0) {
			t.Fatalf("invariant broken for %+v", p)
		}
	}
	if total != 1 {
		t.Fatalf("total kills = %d, want 1", total)
	}
}

func TestHitRejections(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")
	mustJoin(t, c, "r2", "p3", "")

	tests := []struct {
		name      string
		shooter   string
		target    string
		damage    int
		wantError error
	}{
		{"cross room", "p1", "p3", 10, ErrInvalidTarget},
		{"unknown target", "p1", "ghost", 10, ErrNotFound},
		{"unknown shooter", "ghost", "p1", 10, ErrNotFound},
		{"zero damage", "p1", "p2", 0, ErrInvalidDamage},
		{"negative damage", "p1", "p2", -50, ErrInvalidDamage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Hit(ctx, tt.shooter, tt.target, tt.damage)
			if !errors.Is(err, tt.wantError) {
				t.Fatalf("err = %v, want %v", err, tt.wantError)
			}
			if !IsBenign(err) {
				t.Fatalf("err %v should be benign", err)
			}
		})
	}

	for _, id := range []string{"p1", "p2"} {
		if p := findPlayer(t, mustView(t, c, "r1"), id); p.Health != MaxHealth {
			t.Fatalf("%s health = %d after rejected hits", id, p.Health)
		}
	}
}

func TestShootStampsServerTimeAndRequiresAlive(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	c, rec := newTestCoordinator(t, WithClock(func() time.Time { return fixed }), WithRespawnDelay(time.Hour))
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")

	shot := Shot{Origin: Vec3{1, 2, 3}, Direction: Vec3{0, 0, -1}}
	out, err := c.Shoot(ctx, "p1", shot)
	if err != nil {
		t.Fatalf("shoot: %v", err)
	}
	if out.Timestamp != fixed.UnixMilli() || out.ShooterID != "p1" || out.Origin != shot.Origin {
		t.Fatalf("shot = %+v", out)
	}
	b := rec.waitFor(t, protocol.MsgPlayerShoot)
	if len(b.Recipients) != 2 {
		t.Fatalf("playerShoot recipients = %v, want whole room", b.Recipients)
	}

	if _, err := c.Hit(ctx, "p2", "p1", 100); err != nil {
		t.Fatalf("hit: %v", err)
	}
	if _, err := c.Shoot(ctx, "p1", shot); !errors.Is(err, ErrDeadShooter) {
		t.Fatalf("err = %v, want ErrDeadShooter", err)
	}
	if _, err := c.Shoot(ctx, "ghost", shot); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRespawnFiresOncePerKill(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")

	for round := 1; round <= 2; round++ {
		if _, err := c.Hit(ctx, "p1", "p2", 100); err != nil {
			t.Fatalf("round %d hit: %v", round, err)
		}
		rec.waitForN(t, protocol.MsgPlayerRespawn, round)
	}
	time.Sleep(3 * testRespawnDelay)

	if got := len(rec.byEvent(protocol.MsgPlayerRespawn)); got != 2 {
		t.Fatalf("respawns = %d, want 2", got)
	}
	p2 := findPlayer(t, mustView(t, c, "r1"), "p2")
	if p2.Score.Deaths != 2 || !p2.IsAlive {
		t.Fatalf("p2 = %+v", p2)
	}
}

func TestRespawnSkippedAfterLeave(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")
	if _, err := c.Hit(ctx, "p1", "p2", 100); err != nil {
		t.Fatalf("hit: %v", err)
	}
	if _, err := c.Leave(ctx, "p2"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	time.Sleep(3 * testRespawnDelay)

	if got := len(rec.byEvent(protocol.MsgPlayerRespawn)); got != 0 {
		t.Fatalf("respawns = %d, want 0", got)
	}
}

func TestRespawnRacesWithRoomActivity(t *testing.T) {
	c, rec := newTestCoordinator(t)
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")
	if _, err := c.Hit(ctx, "p1", "p2", 100); err != nil {
		t.Fatalf("hit: %v", err)
	}

	// Keep the room busy across the respawn window without flooding it.
	deadline := time.Now().Add(3 * testRespawnDelay)
	for i := 0; i < 2000 && time.Now().Before(deadline); i++ {
		pos := Vec3{X: float64(i)}
		if _, err := c.Update(ctx, "p1", PlayerUpdate{Position: &pos}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if _, err := c.Shoot(ctx, "p1", Shot{Origin: pos}); err != nil {
			t.Fatalf("shoot: %v", err)
		}
	}

	rec.waitFor(t, protocol.MsgPlayerRespawn)
	if got := len(rec.byEvent(protocol.MsgPlayerRespawn)); got != 1 {
		t.Fatalf("respawns = %d, want 1", got)
	}
	p2 := findPlayer(t, mustView(t, c, "r1"), "p2")
	if p2.Health != MaxHealth || !p2.IsAlive {
		t.Fatalf("p2 = %+v", p2)
	}
}

func TestStaleRespawnKeepsNewerTimer(t *testing.T) {
	c, rec := newTestCoordinator(t, WithRespawnDelay(time.Hour))
	ctx := context.Background()
	key := respawnKey{RoomID: "r1", PlayerID: "p2"}

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")
	if _, err := c.Hit(ctx, "p1", "p2", 100); err != nil {
		t.Fatalf("hit: %v", err)
	}

	// A timer left over from an earlier death fires late.
	c.inbox <- respawnCmd{key: key, deaths: 0}
	if _, err := c.Status(ctx); err != nil {
		t.Fatalf("status: %v", err)
	}
	pr, ok := c.pending[key]
	if !ok || pr.deaths != 1 {
		t.Fatalf("pending = %+v, %v; want the timer for death 1", pr, ok)
	}
	if p2 := findPlayer(t, mustView(t, c, "r1"), "p2"); p2.IsAlive {
		t.Fatalf("stale respawn revived p2: %+v", p2)
	}
	if got := len(rec.byEvent(protocol.MsgPlayerRespawn)); got != 0 {
		t.Fatalf("respawns = %d, want 0", got)
	}

	// The newer timer is still cancellable.
	if _, err := c.Leave(ctx, "p2"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := c.Status(ctx); err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(c.pending) != 0 {
		t.Fatalf("pending after leave = %v", c.pending)
	}
}

func TestHealthInvariantAcrossSequence(t *testing.T) {
	c, _ := newTestCoordinator(t, WithRespawnDelay(time.Hour))
	ctx := context.Background()

	mustJoin(t, c, "r1", "p1", "")
	mustJoin(t, c, "r1", "p2", "")

	for i, dmg := range []int{1, 40, 59, 7, 1000} {
		_, err := c.Hit(ctx, "p1", "p2", dmg)
		if err != nil && !IsBenign(err) {
			t.Fatalf("hit %d: %v", i, err)
		}
		p := findPlayer(t, mustView(t, c, "r1"), "p2")
		if p.Health < 0 || p.Health > MaxHealth {
			t.Fatalf("step %d: health %d out of range", i, p.Health)
		}
		if p.IsAlive != (p.Health > 0) {
			t.Fatalf("step %d: alive=%v with health %d", i, p.IsAlive, p.Health)
		}
	}
	v := mustView(t, c, "r1")
	kills, deaths := 0, 0
	for _, p := range v.Players {
		kills += p.Score.Kills
		deaths += p.Score.Deaths
	}
	if kills != deaths || kills != 1 {
		t.Fatalf("kills=%d deaths=%d, want 1/1", kills, deaths)
	}
}

func ExampleCoordinator_Hit() {
	c := NewCoordinator(WithRespawnDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_, _ = c.Join(ctx, JoinRequest{RoomID: "r1", PlayerID: "p1", Name: "A"})
	_, _ = c.Join(ctx, JoinRequest{RoomID: "r1", PlayerID: "p2", Name: "B"})
	res, _ := c.Hit(ctx, "p2", "p1", 150)
	fmt.Println(res.TargetHealth, res.IsKill, res.ShooterScore.Kills)
	// Output: 0 true 1
}
