package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/partyquiz/internal/answers"
	"github.com/victornm/partyquiz/internal/api"
	"github.com/victornm/partyquiz/internal/content"
	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/leaderboard"
	"github.com/victornm/partyquiz/internal/ledger"
	"github.com/victornm/partyquiz/internal/lock"
	"github.com/victornm/partyquiz/internal/round"
	"github.com/victornm/partyquiz/internal/session"
	"github.com/victornm/partyquiz/internal/specialist"
	"github.com/victornm/partyquiz/internal/storage"
	"github.com/victornm/partyquiz/internal/timer"
)

type fixture struct {
	engine *gin.Engine
	eb     *event.Bus
}

type sourceFunc func(ctx context.Context, topic string, count int) ([]domain.Question, error)

func (f sourceFunc) Questions(ctx context.Context, topic string, count int) ([]domain.Question, error) {
	return f(ctx, topic, count)
}

var parisSource = sourceFunc(func(_ context.Context, _ string, _ int) ([]domain.Question, error) {
	return []domain.Question{{
		Text:    "What is the capital of France?",
		Choices: []string{"Paris", "London", "Berlin", "Madrid"},
		Correct: "Paris",
	}}, nil
})

func makeFixture(t *testing.T) *fixture {
	t.Helper()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")

	store := storage.NewMemory()
	clock := clockwork.NewFakeClock()
	eb := event.NewBus()

	lg := ledger.NewService(ledger.Config{Store: store, EventBus: eb})
	locks := lock.NewService(lock.Config{Redis: rc, Prefix: "partyquiz"})

	mc := round.NewMultipleChoice(round.MultipleChoiceConfig{
		Store:  store,
		Redis:  rc,
		Lock:   locks,
		Source: parisSource,
		Ledger: lg,
		Prefix: "partyquiz",
	})
	registry := round.NewRegistry(
		round.NewCategoryLetter(round.CategoryLetterConfig{Store: store, Ledger: lg}),
		mc,
		round.NewSpecialistHandler(round.SpecialistHandlerConfig{Store: store}),
	)

	ss := session.NewService(session.Config{
		Store:    store,
		Registry: registry,
		Buffer:   answers.NewBuffer(answers.Config{Redis: rc, Players: store, Prefix: "partyquiz"}),
		Ledger:   lg,
		Specialist: specialist.NewService(specialist.Config{
			Store:    store,
			Source:   content.NewStatic(),
			Ledger:   lg,
			EventBus: eb,
			Clock:    clock,
		}),
		Timer:    timer.NewRunner(timer.Config{EventBus: eb, Clock: clock}),
		EventBus: eb,
		Cache:    mc,
		Clock:    clock,
	})

	ls := leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Redis:    rc,
		Prefix:   "partyquiz",
	})

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	api.New(api.Config{Router: engine, Session: ss, Leaderboard: ls})

	return &fixture{engine: engine, eb: eb}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()

	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, r)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "every response is JSON")
	return w.Code, resp
}

func TestAPI_FullGameFlow(t *testing.T) {
	f := makeFixture(t)

	status, resp := f.do(t, http.MethodPost, "/api/sessions",
		`{"num_rounds": 1, "flavors": ["multiple_choice"]}`)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, resp["success"])

	code := resp["session"].(map[string]any)["code"].(string)
	require.Len(t, code, 6)

	status, resp = f.do(t, http.MethodPost, "/api/sessions/"+code+"/join", `{"name": "Ann"}`)
	require.Equal(t, http.StatusOK, status)
	playerID := resp["player"].(map[string]any)["id"].(string)
	require.NotEmpty(t, playerID)

	status, _ = f.do(t, http.MethodPost, "/api/sessions/"+code+"/start", "")
	require.Equal(t, http.StatusOK, status)

	status, resp = f.do(t, http.MethodPost, "/api/sessions/"+code+"/rounds/start", "")
	require.Equal(t, http.StatusOK, status)

	question := resp["content"].(map[string]any)["question"].(map[string]any)
	require.Equal(t, "What is the capital of France?", question["text"])
	_, leaked := question["correct"]
	require.False(t, leaked, "round content over HTTP must not carry the correct option")

	status, _ = f.do(t, http.MethodPost, "/api/sessions/"+code+"/answers",
		`{"player_id": "`+playerID+`", "answer": "Paris"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/api/sessions/"+code+"/rounds/end", "")
	require.Equal(t, http.StatusOK, status)

	status, resp = f.do(t, http.MethodGet, "/api/sessions/"+code+"/standings", "")
	require.Equal(t, http.StatusOK, status)

	standings := resp["standings"].([]any)
	require.Len(t, standings, 1)
	require.Equal(t, "Ann", standings[0].(map[string]any)["name"])
	require.Equal(t, float64(10), standings[0].(map[string]any)["score"])

	f.eb.Stop()

	status, resp = f.do(t, http.MethodGet, "/api/sessions/"+code+"/leaderboard", "")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp["standings"].([]any), 1, "score events fed the redis mirror")
}

func TestAPI_ErrorMapping(t *testing.T) {
	f := makeFixture(t)
	t.Cleanup(f.eb.Stop)

	tests := map[string]struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		"unknown session maps to 404": {
			method: http.MethodGet, path: "/api/sessions/NOPE42", wantStatus: http.StatusNotFound,
		},
		"ending a round in an unknown session maps to 404": {
			method: http.MethodPost, path: "/api/sessions/NOPE42/rounds/end", wantStatus: http.StatusNotFound,
		},
		"malformed body maps to 400": {
			method: http.MethodPost, path: "/api/sessions/NOPE42/join", body: "{", wantStatus: http.StatusBadRequest,
		},
		"validate without the valid field maps to 400": {
			method: http.MethodPost, path: "/api/sessions/NOPE42/answers/validate",
			body: `{"player_id": "p1"}`, wantStatus: http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			status, resp := f.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, status)
			require.Equal(t, false, resp["success"])
			require.NotEmpty(t, resp["error"])
		})
	}
}

func TestAPI_EndRoundTwiceConflicts(t *testing.T) {
	f := makeFixture(t)
	t.Cleanup(f.eb.Stop)

	_, resp := f.do(t, http.MethodPost, "/api/sessions", `{"num_rounds": 1, "flavors": ["multiple_choice"]}`)
	code := resp["session"].(map[string]any)["code"].(string)

	f.do(t, http.MethodPost, "/api/sessions/"+code+"/join", `{"name": "Ann"}`)
	f.do(t, http.MethodPost, "/api/sessions/"+code+"/start", "")
	f.do(t, http.MethodPost, "/api/sessions/"+code+"/rounds/start", "")

	status, _ := f.do(t, http.MethodPost, "/api/sessions/"+code+"/rounds/end", "")
	require.Equal(t, http.StatusOK, status)

	status, resp = f.do(t, http.MethodPost, "/api/sessions/"+code+"/rounds/end", "")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, false, resp["success"])
}
