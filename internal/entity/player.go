package entity

// PlayerID - opaque identity of a participant. The empty value never owns a cell or a seat.
type PlayerID string

const EmptyCell PlayerID = ""

func (that PlayerID) IsEmpty() bool {
	return that == EmptyCell
}

// Role - what the local client controls in a game.
type Role struct {
	Player    PlayerID
	Spectator bool
}

func SpectatorRole() Role {
	return Role{Spectator: true}
}

func PlayerRole(id PlayerID) Role {
	return Role{Player: id}
}
