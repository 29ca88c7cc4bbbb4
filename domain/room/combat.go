package room

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/edisonsu0623/krunker-game-backend/protocol"
)

// pendingRespawn is an armed respawn timer and the death it belongs to.
type pendingRespawn struct {
	timer  *time.Timer
	deaths int
}

// respawnKey identifies the pending respawn of one player in one room.
type respawnKey struct {
	RoomID   string
	PlayerID string
}

func (c *Coordinator) shoot(playerID string, shot Shot) (ShotFired, error) {
	rm, shooter, err := c.resolve(playerID)
	if err != nil {
		return ShotFired{}, err
	}
	if !shooter.IsAlive {
		return ShotFired{}, ErrDeadShooter
	}

	out := ShotFired{
		ShooterID: playerID,
		Origin:    shot.Origin,
		Direction: shot.Direction,
		Timestamp: c.now().UnixMilli(),
	}
	c.pub.Publish(Broadcast{
		RoomID:     rm.ID,
		Event:      protocol.MsgPlayerShoot,
		Payload:    out,
		Recipients: rm.memberIDs(""),
	})
	return out, nil
}

// hit applies client-reported damage to target. The alive check, the health
// update and the kill credit happen in one command, so two hits racing for
// the same target can credit at most one kill.
func (c *Coordinator) hit(shooterID, targetID string, damage int) (HitResult, error) {
	if damage <= 0 {
		return HitResult{}, fmt.Errorf("hit %s: %w", targetID, ErrInvalidDamage)
	}
	rm, shooter, err := c.resolve(shooterID)
	if err != nil {
		return HitResult{}, err
	}
	targetRoom, _, ok := c.index.Lookup(targetID)
	if !ok {
		return HitResult{}, ErrNotFound
	}
	if targetRoom != rm.ID {
		return HitResult{}, fmt.Errorf("hit %s: %w: different room", targetID, ErrInvalidTarget)
	}
	target, ok := rm.Players[targetID]
	if !ok {
		return HitResult{}, ErrNotFound
	}
	if !target.IsAlive {
		return HitResult{}, fmt.Errorf("hit %s: %w: already dead", targetID, ErrInvalidTarget)
	}

	target.Health = max(0, target.Health-damage)
	kill := target.Health == 0
	if kill {
		target.IsAlive = false
		shooter.Score.Kills++
		target.Score.Deaths++
		rm.GameData.Scores[shooter.ID] = shooter.Score
		rm.GameData.Scores[target.ID] = target.Score
		c.metrics.Kill()
		c.scheduleRespawn(respawnKey{RoomID: rm.ID, PlayerID: target.ID}, target.Score.Deaths)

		c.logger.Info("player killed",
			slog.String("room_id", rm.ID),
			slog.String("shooter_id", shooter.ID),
			slog.String("target_id", target.ID),
		)
	}

	res := HitResult{
		RoomID:       rm.ID,
		ShooterID:    shooter.ID,
		TargetID:     target.ID,
		Damage:       damage,
		TargetHealth: target.Health,
		IsKill:       kill,
		ShooterScore: shooter.Score,
		TargetScore:  target.Score,
	}
	c.pub.Publish(Broadcast{
		RoomID:     rm.ID,
		Event:      protocol.MsgPlayerHit,
		Payload:    res,
		Recipients: rm.memberIDs(""),
	})
	return res, nil
}

// scheduleRespawn arms a timer that feeds a respawnCmd back through the inbox.
func (c *Coordinator) scheduleRespawn(key respawnKey, deaths int) {
	if _, exists := c.pending[key]; exists {
		// A dead player is never a valid target, so a second kill cannot
		// happen before the first respawn fires.
		c.logger.Error("respawn already pending",
			slog.String("room_id", key.RoomID),
			slog.String("player_id", key.PlayerID),
		)
		return
	}
	cmd := respawnCmd{key: key, deaths: deaths}
	t := time.AfterFunc(c.respawnDelay, func() {
		select {
		case c.inbox <- cmd:
		case <-c.quit:
		case <-c.done:
		}
	})
	c.pending[key] = pendingRespawn{timer: t, deaths: deaths}
}

func (c *Coordinator) cancelRespawn(key respawnKey) {
	if pr, ok := c.pending[key]; ok {
		pr.timer.Stop()
		delete(c.pending, key)
	}
}

func (c *Coordinator) respawn(cmd respawnCmd) {
	// A stale command must not release the entry of a newer timer.
	if pr, ok := c.pending[cmd.key]; ok && pr.deaths == cmd.deaths {
		delete(c.pending, cmd.key)
	}

	rm, ok := c.rooms.Get(cmd.key.RoomID)
	if !ok {
		return
	}
	p, ok := rm.Players[cmd.key.PlayerID]
	if !ok || p.IsAlive || p.Score.Deaths != cmd.deaths {
		return
	}
	p.respawn(c.now())
	c.metrics.Respawn()

	c.pub.Publish(Broadcast{
		RoomID: rm.ID,
		Event:  protocol.MsgPlayerRespawn,
		Payload: Respawned{
			PlayerID: p.ID,
			Position: p.Position,
			Health:   p.Health,
		},
		Recipients: rm.memberIDs(""),
	})
}
