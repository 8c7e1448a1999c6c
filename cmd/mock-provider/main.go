// Mock SMS-PROSTO gateway for local development and smoke tests. Implements
// the GET query-string protocol: method=push_msg|get_msg_status|get_balance.
// Outcome knobs select accepted/rejected responses and how many status polls
// a message stays pending before it reports delivered.
package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type config struct {
	Port        string  `envconfig:"PORT" default:"8081"`
	APIKey      string  `envconfig:"MOCK_API_KEY" default:""`
	OutcomeMode string  `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string  `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	ErrCode     string  `envconfig:"MOCK_ERR_CODE" default:"623"`
	// Number of get_msg_status polls a message answers "pending" before it
	// flips to delivered. 0 delivers on the first poll.
	PendingPolls int     `envconfig:"MOCK_PENDING_POLLS" default:"1"`
	Balance      float64 `envconfig:"MOCK_BALANCE" default:"1500.50"`
	DelayMs      int     `envconfig:"MOCK_DELAY_MS" default:"0"`

	Outcomes []string
	Delay    time.Duration
}

var errTexts = map[string]string{
	"600": "Пустой api-ключ",
	"602": "Неверный api-ключ",
	"623": "Недостаточно средств",
	"666": "Внутренняя ошибка сервиса",
}

type envelope struct {
	Response struct {
		Msg struct {
			ErrCode string `json:"err_code"`
			Text    string `json:"text,omitempty"`
			Status  int    `json:"status,omitempty"`
		} `json:"msg"`
		Data map[string]any `json:"data,omitempty"`
	} `json:"response"`
}

type server struct {
	cfg    config
	idx    uint64 // message id allocation
	outIdx uint64 // round_robin outcome rotation

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	polls map[string]int
}

func main() {
	loggingInit()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock gateway config load failed", "err", err)
		os.Exit(1)
	}
	cfg.OutcomeMode = strings.ToLower(cfg.OutcomeMode)
	cfg.Outcomes = parseCSV(cfg.OutcomesRaw)
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond

	s := &server{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		polls: make(map[string]int),
	}

	http.HandleFunc("/", s.handle)

	slog.Info("mock sms gateway listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		slog.Error("mock sms gateway server failed", "err", err)
		os.Exit(1)
	}
}

func loggingInit() {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))
}

func (s *server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	method := q.Get("method")

	if s.cfg.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.cfg.Delay):
		}
	}

	if s.cfg.APIKey != "" && q.Get("key") != s.cfg.APIKey {
		s.writeEnvelope(w, "602", errTexts["602"], nil)
		s.logReq(r, method, start)
		return
	}

	switch method {
	case "push_msg":
		s.handlePush(w, q.Get("phone"), q.Get("text"))
	case "get_msg_status":
		s.handleStatus(w, q.Get("id"))
	case "get_balance":
		s.writeEnvelope(w, "0", "", map[string]any{"balance": s.cfg.Balance})
	default:
		s.writeEnvelope(w, "666", "Неизвестный метод: "+method, nil)
	}
	s.logReq(r, method, start)
}

func (s *server) handlePush(w http.ResponseWriter, phone, text string) {
	if phone == "" || text == "" {
		s.writeEnvelope(w, "666", "Отсутствуют обязательные параметры", nil)
		return
	}

	if outcome := s.nextOutcome(); outcome != "ok" && outcome != "success" {
		code := s.cfg.ErrCode
		if c, rest, found := strings.Cut(outcome, ":"); found && c == "err" {
			code = rest
		}
		msg := errTexts[code]
		if msg == "" {
			msg = "Ошибка отправки"
		}
		s.writeEnvelope(w, code, msg, nil)
		return
	}

	id := "mock-" + strconv.FormatUint(atomic.AddUint64(&s.idx, 1), 10)
	s.mu.Lock()
	s.polls[id] = 0
	s.mu.Unlock()
	s.writeEnvelope(w, "0", "Сообщение принято для отправки", map[string]any{"id": id})
}

func (s *server) handleStatus(w http.ResponseWriter, id string) {
	if id == "" {
		s.writeEnvelope(w, "666", "Не указан id сообщения", nil)
		return
	}

	s.mu.Lock()
	n, known := s.polls[id]
	if known {
		s.polls[id] = n + 1
	}
	s.mu.Unlock()

	if !known {
		s.writeEnvelope(w, "666", "Сообщение не найдено", nil)
		return
	}

	// msg.status: 1 delivered, 2/3 error, anything else pending.
	status := 0
	if n >= s.cfg.PendingPolls {
		status = 1
	}

	var env envelope
	env.Response.Msg.ErrCode = "0"
	env.Response.Msg.Status = status
	env.Response.Data = map[string]any{"id": id}
	writeJSON(w, env)
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "round_robin":
		idx := atomic.AddUint64(&s.outIdx, 1) - 1
		return s.cfg.Outcomes[int(idx)%len(s.cfg.Outcomes)]
	case "random":
		s.rngMu.Lock()
		i := s.rng.Intn(len(s.cfg.Outcomes))
		s.rngMu.Unlock()
		return s.cfg.Outcomes[i]
	case "weighted":
		s.rngMu.Lock()
		ok := s.rng.Float64() <= s.cfg.SuccessRate
		s.rngMu.Unlock()
		if ok {
			return "ok"
		}
		return "err:" + s.cfg.ErrCode
	default:
		return s.cfg.Outcomes[0]
	}
}

func (s *server) writeEnvelope(w http.ResponseWriter, errCode, text string, data map[string]any) {
	var env envelope
	env.Response.Msg.ErrCode = errCode
	env.Response.Msg.Text = text
	env.Response.Data = data
	writeJSON(w, env)
}

func (s *server) logReq(r *http.Request, method string, start time.Time) {
	slog.Info("mock gateway request",
		"method", method,
		"path", r.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}
