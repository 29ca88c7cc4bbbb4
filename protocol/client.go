package protocol

// Payloads sent by the browser client.

type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type JoinRoom struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName,omitempty"`
}

type PlayerShoot struct {
	Origin    Vector `json:"origin"`
	Direction Vector `json:"direction"`
}

type PlayerHit struct {
	TargetID string  `json:"targetId"`
	Damage   float64 `json:"damage"`
}
