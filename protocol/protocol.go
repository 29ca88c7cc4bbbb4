package protocol

import "encoding/json"

// Client -> server events.
const (
	MsgJoinRoom     = "joinRoom"
	MsgPlayerUpdate = "playerUpdate"
	MsgPlayerShoot  = "playerShoot"
	MsgPlayerHit    = "playerHit"
	MsgGetRoomList  = "getRoomList"
)

// Server -> client events.
const (
	MsgWelcome       = "welcome"
	MsgJoinedRoom    = "joinedRoom"
	MsgJoinRoomError = "joinRoomError"
	MsgPlayerJoined  = "playerJoined"
	MsgPlayerLeft    = "playerLeft"
	MsgHostChanged   = "hostChanged"
	MsgPlayerRespawn = "playerRespawn"
	MsgRoomList      = "roomList"
	MsgError         = "error"
	// playerUpdate, playerShoot and playerHit are echoed under their inbound names.
)

type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"` // raw payload bytes
}
