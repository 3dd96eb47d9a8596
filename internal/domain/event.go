package domain

const (
	EventNameGameStarted        = "game-started"
	EventNameGameComplete       = "game-complete"
	EventNameRoundStarted       = "round-started"
	EventNameRoundEnded         = "round-ended"
	EventNameTimerUpdate        = "timer-update"
	EventNameScoreUpdated       = "score-update"
	EventNamePlayerResult       = "player-result"
	EventNamePlayerSelected     = "player-selected"
	EventNameReadyResponse      = "ready-response"
	EventNameRapidFireCompleted = "rapid-fire-completed"
)

type EventGameStarted struct {
	Session     Session
	PlayerCount int
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

type EventGameComplete struct {
	Session   Session
	Standings []StandingsEntry
}

func (EventGameComplete) Name() string { return EventNameGameComplete }

type EventRoundStarted struct {
	Session Session
	Content RoundContent
}

func (EventRoundStarted) Name() string { return EventNameRoundStarted }

type EventRoundEnded struct {
	Session    Session
	Content    RoundContent
	Answers    []Answer
	FinalRound bool
}

func (EventRoundEnded) Name() string { return EventNameRoundEnded }

type EventTimerUpdate struct {
	SessionCode string
	RoundNumber int
	Remaining   int
}

func (EventTimerUpdate) Name() string { return EventNameTimerUpdate }

type EventScoreUpdated struct {
	Player Player
	Delta  int
	Reason string
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

// EventPlayerResult is addressed to a single player's private channel.
type EventPlayerResult struct {
	SessionCode string
	PlayerID    string
	RoundNumber int
	Message     string
	Points      int
	Correct     bool
}

func (EventPlayerResult) Name() string { return EventNamePlayerResult }

type EventPlayerSelected struct {
	SessionCode string
	RoundNumber int
	Player      Player
}

func (EventPlayerSelected) Name() string { return EventNamePlayerSelected }

type EventReadyResponse struct {
	SessionCode string
	RoundNumber int
	PlayerID    string
	Ready       bool
}

func (EventReadyResponse) Name() string { return EventNameReadyResponse }

type EventRapidFireCompleted struct {
	SessionCode string
	RoundNumber int
	PlayerID    string
	Phase       SpecialistPhase
	Correct     int
	Total       int
	Points      int
}

func (EventRapidFireCompleted) Name() string { return EventNameRapidFireCompleted }
