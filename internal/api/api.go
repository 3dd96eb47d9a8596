// Package api is the HTTP JSON surface. Every session action maps to one
// endpoint; responses carry a success flag so clients branch on the body
// instead of parsing status codes.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/errors"
	"github.com/victornm/partyquiz/internal/leaderboard"
	"github.com/victornm/partyquiz/internal/session"
)

type Config struct {
	Router      gin.IRouter
	Session     *session.Service
	Leaderboard *leaderboard.Service
}

type API struct {
	ss *session.Service
	ls *leaderboard.Service
}

func New(c Config) *API {
	a := &API{
		ss: c.Session,
		ls: c.Leaderboard,
	}

	r := c.Router.Group("/api/sessions")

	r.POST("", a.CreateSession)
	r.GET("/:code", a.Status)
	r.POST("/:code/join", a.Join)
	r.POST("/:code/disconnect", a.Disconnect)

	r.POST("/:code/start", a.StartGame)
	r.POST("/:code/restart", a.RestartGame)
	r.POST("/:code/rounds/start", a.StartRound)
	r.POST("/:code/rounds/end", a.EndRound)

	r.POST("/:code/answers", a.SubmitAnswer)
	r.POST("/:code/answers/validate", a.ValidateAnswer)

	r.GET("/:code/standings", a.Standings)
	r.GET("/:code/leaderboard", a.Leaderboard)

	r.POST("/:code/specialist/select", a.SelectPlayer)
	r.POST("/:code/specialist/ready", a.ReadyResponse)
	r.POST("/:code/specialist/continue", a.ContinueToNextPlayer)
	r.POST("/:code/specialist/answers", a.SubmitAnswerBatch)
	r.GET("/:code/specialist/questions", a.SpecialistQuestions)

	return a
}

type (
	Session struct {
		Code        string     `json:"code"`
		Status      string     `json:"status"`
		RoundNumber int        `json:"round_number"`
		RoundActive bool       `json:"round_active"`
		MaxPlayers  int        `json:"max_players"`
		NumRounds   int        `json:"num_rounds"`
		CreatedAt   time.Time  `json:"created_at"`
		StartedAt   *time.Time `json:"started_at,omitempty"`
		FinishedAt  *time.Time `json:"finished_at,omitempty"`
	}

	Player struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Connected       bool   `json:"connected"`
		Score           int    `json:"score"`
		Streak          int    `json:"streak"`
		SpecialistTopic string `json:"specialist_topic,omitempty"`
	}

	SpecialistRound struct {
		State           string `json:"state"`
		Phase           string `json:"phase"`
		CurrentPlayerID string `json:"current_player_id,omitempty"`
	}
)

func toSession(s *domain.Session) Session {
	return Session{
		Code:        s.Code,
		Status:      string(s.Status),
		RoundNumber: s.RoundNumber,
		RoundActive: s.RoundActive,
		MaxPlayers:  s.MaxPlayers,
		NumRounds:   s.Config.NumRounds,
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
}

func toPlayer(p *domain.Player) Player {
	return Player{
		ID:              p.ID,
		Name:            p.Name,
		Connected:       p.Connected,
		Score:           p.Score,
		Streak:          p.Streak,
		SpecialistTopic: p.SpecialistTopic,
	}
}

func toSpecialistRound(r *domain.SpecialistRound) SpecialistRound {
	return SpecialistRound{
		State:           string(r.State),
		Phase:           string(r.Phase),
		CurrentPlayerID: r.CurrentPlayerID,
	}
}

type CreateSessionRequest struct {
	MaxPlayers   int      `json:"max_players"`
	NumRounds    int      `json:"num_rounds"`
	RoundSeconds int      `json:"round_seconds"`
	Flavors      []string `json:"flavors"`
	Categories   []string `json:"categories"`
}

func (a *API) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	flavors := make([]domain.Flavor, 0, len(req.Flavors))
	for _, f := range req.Flavors {
		flavors = append(flavors, domain.Flavor(f))
	}

	ss, err := a.ss.CreateSession(c.Request.Context(), session.CreateSessionRequest{
		MaxPlayers: req.MaxPlayers,
		Config: domain.SessionConfig{
			NumRounds:      req.NumRounds,
			RoundSeconds:   req.RoundSeconds,
			FlavorSequence: flavors,
			Categories:     req.Categories,
		},
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"session": toSession(ss)})
}

type JoinRequest struct {
	Name            string `json:"name"`
	SpecialistTopic string `json:"specialist_topic"`
}

func (a *API) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.ss.Join(c.Request.Context(), session.JoinRequest{
		Code:            c.Param("code"),
		Name:            req.Name,
		SpecialistTopic: req.SpecialistTopic,
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"player": toPlayer(p)})
}

type DisconnectRequest struct {
	PlayerID string `json:"player_id"`
}

func (a *API) Disconnect(c *gin.Context) {
	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.ss.Disconnect(c.Request.Context(), c.Param("code"), req.PlayerID); err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{})
}

func (a *API) StartGame(c *gin.Context) {
	ss, err := a.ss.StartGame(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"session": toSession(ss)})
}

func (a *API) RestartGame(c *gin.Context) {
	ss, err := a.ss.RestartGame(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"session": toSession(ss)})
}

func (a *API) StartRound(c *gin.Context) {
	ss, content, err := a.ss.StartRound(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{"session": toSession(ss)}
	if content != nil {
		resp["content"] = publicContent(*content)
	}
	ok(c, resp)
}

func (a *API) EndRound(c *gin.Context) {
	if err := a.ss.EndRound(c.Request.Context(), c.Param("code")); err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{})
}

type SubmitAnswerRequest struct {
	PlayerID string `json:"player_id"`
	Answer   string `json:"answer"`
}

func (a *API) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.ss.SubmitAnswer(c.Request.Context(), c.Param("code"), req.PlayerID, req.Answer); err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{})
}

type ValidateAnswerRequest struct {
	PlayerID string `json:"player_id"`
	Valid    *bool  `json:"valid"`
}

func (a *API) ValidateAnswer(c *gin.Context) {
	var req ValidateAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}
	if req.Valid == nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("valid is required")))
		return
	}

	ans, err := a.ss.ValidateAnswer(c.Request.Context(), c.Param("code"), req.PlayerID, *req.Valid)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{
		"valid":  ans.Valid,
		"unique": ans.Unique,
		"points": ans.Points,
	})
}

func (a *API) Status(c *gin.Context) {
	st, err := a.ss.Status(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}

	players := make([]Player, 0, len(st.Players))
	for i := range st.Players {
		players = append(players, toPlayer(&st.Players[i]))
	}

	ok(c, gin.H{
		"session": toSession(&st.Session),
		"players": players,
	})
}

func (a *API) Standings(c *gin.Context) {
	entries, err := a.ss.Standings(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"standings": entries})
}

// Leaderboard serves the redis-mirrored standings, which survive without a
// trip to the store.
func (a *API) Leaderboard(c *gin.Context) {
	entries, err := a.ls.GetStandings(c.Request.Context(), leaderboard.GetStandingsRequest{
		SessionCode: c.Param("code"),
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"standings": entries})
}

type SelectPlayerRequest struct {
	PlayerID string `json:"player_id"`
}

func (a *API) SelectPlayer(c *gin.Context) {
	var req SelectPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	r, err := a.ss.SelectPlayer(c.Request.Context(), c.Param("code"), req.PlayerID)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"round": toSpecialistRound(r)})
}

type ReadyResponseRequest struct {
	Ready *bool `json:"ready"`
}

func (a *API) ReadyResponse(c *gin.Context) {
	var req ReadyResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}
	if req.Ready == nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("ready is required")))
		return
	}

	r, err := a.ss.ReadyResponse(c.Request.Context(), c.Param("code"), *req.Ready)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"round": toSpecialistRound(r)})
}

func (a *API) ContinueToNextPlayer(c *gin.Context) {
	r, err := a.ss.ContinueToNextPlayer(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"round": toSpecialistRound(r)})
}

type SubmitAnswerBatchRequest struct {
	PlayerID string   `json:"player_id"`
	Choices  []string `json:"choices"`
}

func (a *API) SubmitAnswerBatch(c *gin.Context) {
	var req SubmitAnswerBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	res, err := a.ss.SubmitAnswerBatch(c.Request.Context(), c.Param("code"), req.PlayerID, req.Choices)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{
		"correct": res.Correct,
		"total":   res.Total,
		"points":  res.Points,
		"phase":   res.Phase,
	})
}

func (a *API) SpecialistQuestions(c *gin.Context) {
	playerID := c.Query("player_id")
	if playerID == "" {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player_id is required")))
		return
	}

	qs, err := a.ss.SpecialistQuestions(c.Request.Context(), c.Param("code"), playerID)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"questions": qs})
}

func ok(c *gin.Context, data gin.H) {
	resp := gin.H{"success": true}
	for k, v := range data {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{
		"success": false,
		"error":   e.Message,
	})
}

// publicContent strips the correct option before round content reaches a
// client over HTTP, mirroring the broadcast path.
func publicContent(content domain.RoundContent) domain.RoundContent {
	if content.Question != nil {
		q := content.Question.Public()
		content.Question = &q
	}
	return content
}
