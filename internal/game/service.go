// Package game provides the HTTP handlers that create sessions and accept
// participant decisions, and the glue between the round machine, the store
// and the whole-session barriers.
//
// All point and currency values use shopspring/decimal.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/credence-engine/internal/barrier"
	"github.com/atmx/credence-engine/internal/metrics"
	"github.com/atmx/credence-engine/internal/model"
	"github.com/atmx/credence-engine/internal/round"
	"github.com/atmx/credence-engine/internal/session"
	"github.com/atmx/credence-engine/internal/store"
	"github.com/atmx/credence-engine/internal/treatment"
)

// Settings are the session defaults applied on creation.
type Settings struct {
	DefaultTreatment string
	MarketSize       int
	Rounds           int
}

// Service handles session and decision operations. Mutations of one session
// are serialised with a per-session mutex (single-instance).
//
// The store decides barrier release: a session has started once its status
// left waiting, and a round ends when every record of it is completed. The
// tracker mirrors arrivals for live status and is rebuilt by Restore.
type Service struct {
	store    store.Store
	barriers barrier.Tracker
	wsHub    *WSHub // optional WebSocket hub for session events
	source   round.Source
	settings Settings

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new game service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for src
// to draw seller types from the process-wide generator.
func NewService(st store.Store, barriers barrier.Tracker, hub *WSHub, src round.Source, settings Settings) *Service {
	if src == nil {
		src = round.ProcessSource()
	}
	return &Service{
		store:    st,
		barriers: barriers,
		wsHub:    hub,
		source:   src,
		settings: settings,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Mount registers the session and participant routes on r.
func (s *Service) Mount(r chi.Router) {
	r.Get("/sessions", s.ListSessions)
	r.Post("/sessions", s.CreateSession)
	r.Get("/sessions/{sessionID}", s.GetSession)
	r.Get("/sessions/{sessionID}/rounds/{round}/pairs", s.GetPairs)
	r.Get("/sessions/{sessionID}/rounds/{round}/decisions", s.GetDecisions)

	r.Route("/participants/{participantID}", func(r chi.Router) {
		r.Get("/state", s.GetState)
		r.Post("/arrive", s.Arrive)
		r.Post("/quiz", s.SubmitQuiz)
		r.Post("/price-offer", s.SubmitPriceOffer)
		r.Post("/price-choice", s.SubmitPriceChoice)
		r.Post("/interaction", s.SubmitInteraction)
		r.Post("/action", s.SubmitAction)
		r.Post("/payment", s.SubmitPayment)
		r.Post("/acknowledge", s.Acknowledge)
		r.Get("/results", s.GetResults)
		r.Get("/final", s.GetFinal)
		r.Get("/decisions", s.GetParticipantDecisions)
	})
}

// --- Request/Response types ---

// CreateSessionRequest is the JSON body for session creation. Zero values
// fall back to the service settings.
type CreateSessionRequest struct {
	Treatment    string `json:"treatment"`
	Participants int    `json:"participants"`
	Code         string `json:"code,omitempty"`
	MarketSize   int    `json:"market_size,omitempty"`
	Rounds       int    `json:"rounds,omitempty"`
}

// CreateSessionResponse is returned from POST /sessions.
type CreateSessionResponse struct {
	Session      *model.Session      `json:"session"`
	Participants []model.Participant `json:"participants"`
}

// SessionSummary is returned from GET /sessions/{sessionID}.
type SessionSummary struct {
	*model.Session
	Start barrier.Status `json:"start"`
}

// PairView is one pairing with participant labels.
type PairView struct {
	MarketID    int    `json:"market_id"`
	Buyer       string `json:"buyer"`
	BuyerLabel  string `json:"buyer_label"`
	Seller      string `json:"seller"`
	SellerLabel string `json:"seller_label"`
}

// QuizRequest carries the control quiz answers keyed by question id.
type QuizRequest struct {
	Answers map[string]string `json:"answers"`
}

// PriceOfferRequest is the body of a free price offer.
type PriceOfferRequest struct {
	Price1 int `json:"price1"`
	Price2 int `json:"price2"`
}

// PriceChoiceRequest is the body of a menu choice such as "2-7".
type PriceChoiceRequest struct {
	Choice string `json:"choice"`
}

// InteractionRequest is the seller's decision.
type InteractionRequest struct {
	Interaction *bool `json:"interaction"`
}

// ActionRequest is the buyer's action choice.
type ActionRequest struct {
	Action int `json:"action"`
}

// PaymentRequest is the price the buyer pays.
type PaymentRequest struct {
	PricePaid int `json:"price_paid"`
}

// --- Session handlers ---

// CreateSession handles POST /api/v1/sessions
func (s *Service) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	name := req.Treatment
	if name == "" {
		name = s.settings.DefaultTreatment
	}
	tr, err := treatment.Lookup(name)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tr.MarketSize = firstPositive(req.MarketSize, s.settings.MarketSize, tr.MarketSize)
	tr.Rounds = firstPositive(req.Rounds, s.settings.Rounds, tr.Rounds)

	plan, err := session.Bootstrap(tr, req.Participants, req.Code)
	if err != nil {
		slog.Warn("session rejected", "treatment", name, "participants", req.Participants, "err", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	ctx := r.Context()
	if err := s.store.CreateSession(ctx, plan.Session, plan.Participants, plan.Records); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.SessionsCreated.WithLabelValues(tr.Name).Inc()
	metrics.ActiveSessions.Inc()
	slog.Info("session created",
		"id", plan.Session.ID,
		"code", plan.Session.Code,
		"treatment", tr.Name,
		"participants", plan.Session.Participants,
		"rounds", plan.Session.Rounds,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateSessionResponse{
		Session:      plan.Session,
		Participants: plan.Participants,
	})
}

// ListSessions handles GET /api/v1/sessions
func (s *Service) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		writeError(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, sessions)
}

// GetSession handles GET /api/v1/sessions/{sessionID}
func (s *Service) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.store.GetSession(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	start, err := s.barriers.Status(ctx, round.StartBarrier(sess.ID), sess.Participants)
	if err != nil {
		writeError(w, "failed to read barrier", http.StatusInternalServerError)
		return
	}
	writeJSON(w, SessionSummary{Session: sess, Start: start})
}

// GetPairs handles GET /api/v1/sessions/{sessionID}/rounds/{round}/pairs
func (s *Service) GetPairs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := s.store.GetSession(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, "session not found", http.StatusNotFound)
		return
	}
	rnd, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		writeError(w, "round must be a number", http.StatusBadRequest)
		return
	}
	pairs, ok := sess.Schedule.Round(rnd)
	if !ok {
		writeError(w, "round not in schedule", http.StatusNotFound)
		return
	}

	participants, err := s.store.ListParticipants(ctx, sess.ID)
	if err != nil {
		writeError(w, "failed to load participants", http.StatusInternalServerError)
		return
	}
	labels := make(map[string]string, len(participants))
	for _, p := range participants {
		labels[p.ID] = p.Label
	}

	views := make([]PairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, PairView{
			MarketID:    p.MarketID,
			Buyer:       p.Buyer,
			BuyerLabel:  labels[p.Buyer],
			Seller:      p.Seller,
			SellerLabel: labels[p.Seller],
		})
	}
	writeJSON(w, views)
}

// GetDecisions handles GET /api/v1/sessions/{sessionID}/rounds/{round}/decisions
func (s *Service) GetDecisions(w http.ResponseWriter, r *http.Request) {
	rnd, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		writeError(w, "round must be a number", http.StatusBadRequest)
		return
	}
	records, err := s.store.ListRoundRecords(r.Context(), chi.URLParam(r, "sessionID"), rnd)
	if err != nil {
		writeError(w, "failed to load decisions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.DecisionRecord{}
	}
	writeJSON(w, records)
}

// GetParticipantDecisions handles GET /api/v1/participants/{participantID}/decisions
func (s *Service) GetParticipantDecisions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListParticipantRecords(r.Context(), chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, "failed to load decisions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.DecisionRecord{}
	}
	writeJSON(w, records)
}

// --- Participant handlers ---

// call is the context of one participant request, built under the session lock.
type call struct {
	ctx     context.Context
	p       model.Participant
	sess    *model.Session
	host    *sessionHost
	machine *round.Machine
}

// withParticipant loads the participant and the session, takes the session
// lock and runs fn. It writes the error response itself and reports success.
func (s *Service) withParticipant(w http.ResponseWriter, r *http.Request, fn func(c *call) error) (*call, bool) {
	ctx := r.Context()
	p, err := s.store.GetParticipant(ctx, chi.URLParam(r, "participantID"))
	if err != nil {
		writeError(w, "participant not found", http.StatusNotFound)
		return nil, false
	}

	var sess *model.Session
	unlock := s.lockSession(p.SessionID)
	defer func() {
		unlock()
		if sess != nil && sess.Status == model.SessionFinished {
			s.dropLock(sess.ID)
		}
	}()

	sess, err = s.store.GetSession(ctx, p.SessionID)
	if err != nil {
		s.fail(w, *p, integrity(err))
		return nil, false
	}
	m, err := s.machine(sess)
	if err != nil {
		s.fail(w, *p, err)
		return nil, false
	}

	c := &call{
		ctx:     ctx,
		p:       *p,
		sess:    sess,
		host:    &sessionHost{store: s.store, sess: sess},
		machine: m,
	}
	if err := fn(c); err != nil {
		s.fail(w, *p, err)
		return nil, false
	}
	return c, true
}

// decide applies one submission for step and responds with the new state.
func (s *Service) decide(w http.ResponseWriter, r *http.Request, step round.Step, fn func(c *call) error) {
	start := time.Now()
	var view *round.View

	c, ok := s.withParticipant(w, r, func(c *call) error {
		if err := fn(c); err != nil {
			s.reject(step, err)
			return err
		}
		var err error
		view, err = c.machine.State(c.ctx, c.host, c.p)
		return err
	})
	if !ok {
		return
	}

	metrics.DecisionsTotal.WithLabelValues(string(step)).Inc()
	metrics.DecisionLatency.WithLabelValues(string(step)).Observe(time.Since(start).Seconds())
	slog.Info("decision recorded",
		"session", c.sess.ID,
		"round", c.sess.CurrentRound,
		"participant", c.p.ID,
		"label", c.p.Label,
		"step", step,
		"next", view.Step,
		"waiting", view.Step.Waiting(),
	)
	s.broadcast(Event{
		Type:          EventDecision,
		SessionID:     c.sess.ID,
		Round:         c.sess.CurrentRound,
		ParticipantID: c.p.ID,
		Step:          string(step),
	})
	writeJSON(w, view)
}

// GetState handles GET /api/v1/participants/{participantID}/state
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	var view *round.View
	if _, ok := s.withParticipant(w, r, func(c *call) error {
		var err error
		view, err = c.machine.State(c.ctx, c.host, c.p)
		return err
	}); ok {
		writeJSON(w, view)
	}
}

// Arrive handles POST /api/v1/participants/{participantID}/arrive
// The last arrival releases the session-start barrier. Arriving again while
// the session waits is accepted and retries the release.
func (s *Service) Arrive(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, round.StepWaitSessionStart, func(c *call) error {
		if err := c.machine.CheckArrival(c.ctx, c.host, c.p); err != nil {
			return err
		}
		if !c.p.Arrived {
			c.p.Arrived = true
			if err := s.store.UpdateParticipant(c.ctx, &c.p); err != nil {
				return err
			}
		}
		s.mirror(c.ctx, round.StartBarrier(c.sess.ID), c.p.ID, c.sess.Participants)

		participants, err := s.store.ListParticipants(c.ctx, c.sess.ID)
		if err != nil {
			return err
		}
		arrived := 0
		for _, p := range participants {
			if p.Arrived {
				arrived++
			}
		}
		if arrived < c.sess.Participants {
			return nil
		}

		c.sess.Status = model.SessionRunning
		if err := s.store.UpdateSessionProgress(c.ctx, c.sess.ID, c.sess.CurrentRound, c.sess.Status); err != nil {
			return err
		}
		metrics.BarriersReleased.WithLabelValues("start").Inc()
		slog.Info("session started", "session", c.sess.ID, "participants", arrived)
		s.broadcast(Event{Type: EventSessionStarted, SessionID: c.sess.ID, Round: c.sess.CurrentRound})
		return nil
	})
}

// SubmitQuiz handles POST /api/v1/participants/{participantID}/quiz
func (s *Service) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var req QuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.decide(w, r, round.StepControlQuiz, func(c *call) error {
		if err := c.machine.SubmitQuiz(c.ctx, c.host, c.p, req.Answers); err != nil {
			return err
		}
		c.p.QuizPassed = true
		return s.store.UpdateParticipant(c.ctx, &c.p)
	})
}

// SubmitPriceOffer handles POST /api/v1/participants/{participantID}/price-offer
func (s *Service) SubmitPriceOffer(w http.ResponseWriter, r *http.Request) {
	var req PriceOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.decide(w, r, round.StepPriceOffer, func(c *call) error {
		return c.machine.SubmitOffer(c.ctx, c.host, c.p, req.Price1, req.Price2)
	})
}

// SubmitPriceChoice handles POST /api/v1/participants/{participantID}/price-choice
func (s *Service) SubmitPriceChoice(w http.ResponseWriter, r *http.Request) {
	var req PriceChoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.decide(w, r, round.StepPriceOffer, func(c *call) error {
		return c.machine.SubmitChoice(c.ctx, c.host, c.p, req.Choice)
	})
}

// SubmitInteraction handles POST /api/v1/participants/{participantID}/interaction
func (s *Service) SubmitInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Interaction == nil {
		writeError(w, "interaction must be true or false", http.StatusBadRequest)
		return
	}
	s.decide(w, r, round.StepInteractionDecision, func(c *call) error {
		sellerType, err := c.machine.SubmitInteraction(c.ctx, c.host, c.p, *req.Interaction)
		if err != nil {
			return err
		}
		if *req.Interaction {
			metrics.SellerTypes.WithLabelValues(strconv.Itoa(sellerType)).Inc()
		}
		return nil
	})
}

// SubmitAction handles POST /api/v1/participants/{participantID}/action
func (s *Service) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.decide(w, r, round.StepActionChoice, func(c *call) error {
		return c.machine.SubmitAction(c.ctx, c.host, c.p, req.Action)
	})
}

// SubmitPayment handles POST /api/v1/participants/{participantID}/payment
func (s *Service) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.decide(w, r, round.StepPricePayment, func(c *call) error {
		return c.machine.SubmitPayment(c.ctx, c.host, c.p, req.PricePaid)
	})
}

// Acknowledge handles POST /api/v1/participants/{participantID}/acknowledge
// The last acknowledgement of a round releases the round barrier and moves
// the session on. Acknowledging again while waiting retries the advance.
func (s *Service) Acknowledge(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, round.StepRoundResults, func(c *call) error {
		if err := c.machine.Acknowledge(c.ctx, c.host, c.p); err != nil {
			return err
		}
		s.mirror(c.ctx, round.RoundBarrier(c.sess.ID, c.sess.CurrentRound), c.p.ID, c.sess.Participants)

		records, err := s.store.ListRoundRecords(c.ctx, c.sess.ID, c.sess.CurrentRound)
		if err != nil {
			return err
		}
		completed := 0
		for i := range records {
			if records[i].Completed() {
				completed++
			}
		}
		if completed < c.sess.Participants {
			return nil
		}
		metrics.BarriersReleased.WithLabelValues("round").Inc()
		return s.advance(c)
	})
}

// advance moves the session past a completed round: it creates the next
// round's records or finishes the session after the last round. Records
// left by an interrupted advance are kept, so it can be repeated.
func (s *Service) advance(c *call) error {
	sess := c.sess
	if sess.CurrentRound >= sess.Rounds {
		sess.Status = model.SessionFinished
		if err := s.store.UpdateSessionProgress(c.ctx, sess.ID, sess.CurrentRound, sess.Status); err != nil {
			return err
		}
		metrics.ActiveSessions.Dec()
		slog.Info("session finished", "session", sess.ID, "rounds", sess.Rounds)
		s.broadcast(Event{Type: EventSessionFinished, SessionID: sess.ID, Round: sess.CurrentRound})
		return nil
	}

	next := sess.CurrentRound + 1
	participants, err := s.store.ListParticipants(c.ctx, sess.ID)
	if err != nil {
		return err
	}
	existing, err := s.store.ListRoundRecords(c.ctx, sess.ID, next)
	if err != nil {
		return err
	}
	created := make(map[string]bool, len(existing))
	for _, rec := range existing {
		created[rec.ParticipantID] = true
	}

	// One insert per market; markets are independent.
	byMarket := make(map[int][]model.Participant)
	for _, p := range participants {
		if !created[p.ID] {
			byMarket[p.MarketID] = append(byMarket[p.MarketID], p)
		}
	}
	g, gctx := errgroup.WithContext(c.ctx)
	for _, members := range byMarket {
		g.Go(func() error {
			records, err := session.RoundRecords(sess, members, next)
			if err != nil {
				return err
			}
			return s.store.CreateRecords(gctx, records)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sess.CurrentRound = next
	if err := s.store.UpdateSessionProgress(c.ctx, sess.ID, sess.CurrentRound, sess.Status); err != nil {
		return err
	}
	slog.Info("round advanced", "session", sess.ID, "round", next)
	s.broadcast(Event{Type: EventRoundAdvanced, SessionID: sess.ID, Round: next})
	return nil
}

// GetResults handles GET /api/v1/participants/{participantID}/results?round=n
// Without a round parameter the current round is used.
func (s *Service) GetResults(w http.ResponseWriter, r *http.Request) {
	var res *round.Result
	if _, ok := s.withParticipant(w, r, func(c *call) error {
		rnd := c.sess.CurrentRound
		if q := r.URL.Query().Get("round"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil {
				return errBadRound
			}
			rnd = n
		}
		var err error
		res, err = c.machine.Results(c.ctx, c.host, c.p, rnd)
		return err
	}); ok {
		writeJSON(w, res)
	}
}

// GetFinal handles GET /api/v1/participants/{participantID}/final
// Sums every round's payoff and converts it at the treatment's rate.
func (s *Service) GetFinal(w http.ResponseWriter, r *http.Request) {
	var final *model.FinalResult
	if _, ok := s.withParticipant(w, r, func(c *call) error {
		if c.sess.Status != model.SessionFinished {
			return errNotFinished
		}
		tr := c.machine.Treatment()
		final = &model.FinalResult{
			ParticipantID:    c.p.ID,
			TotalPoints:      decimal.Zero,
			ParticipationFee: tr.ParticipationFee,
		}
		for rnd := 1; rnd <= c.sess.Rounds; rnd++ {
			res, err := c.machine.Results(c.ctx, c.host, c.p, rnd)
			if err != nil {
				return err
			}
			final.Rounds = append(final.Rounds, res.Payoff)
			final.TotalPoints = final.TotalPoints.Add(res.Payoff.Points)
		}
		final.TotalCurrency, final.TotalPayment = tr.Convert(final.TotalPoints)
		return nil
	}); ok {
		writeJSON(w, final)
	}
}

// --- Helpers ---

var (
	errBadRound    = errors.New("round must be a number")
	errNotFinished = errors.New("session has not finished")
)

func (s *Service) machine(sess *model.Session) (*round.Machine, error) {
	tr, err := treatment.Lookup(sess.Treatment)
	if err != nil {
		return nil, err
	}
	tr.MarketSize = sess.MarketSize
	tr.Rounds = sess.Rounds
	return round.New(tr, s.source)
}

func (s *Service) lockSession(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// dropLock forgets the mutex of a finished session.
func (s *Service) dropLock(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// mirror records an arrival in the barrier tracker. The store stays
// authoritative, so a tracker failure is only logged.
func (s *Service) mirror(ctx context.Context, barrierID, participantID string, expected int) {
	if _, err := s.barriers.Arrive(ctx, barrierID, participantID, expected); err != nil {
		slog.Warn("barrier tracker update failed", "barrier", barrierID, "participant", participantID, "err", err)
	}
}

// Restore replays stored arrivals and acknowledgements of unfinished
// sessions into the barrier tracker and resets the active-session gauge.
// Call it once before serving.
func (s *Service) Restore(ctx context.Context) error {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, sess := range sessions {
		if sess.Status == model.SessionFinished {
			continue
		}
		active++
		participants, err := s.store.ListParticipants(ctx, sess.ID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.Arrived {
				s.mirror(ctx, round.StartBarrier(sess.ID), p.ID, sess.Participants)
			}
		}
		if sess.Status != model.SessionRunning {
			continue
		}
		records, err := s.store.ListRoundRecords(ctx, sess.ID, sess.CurrentRound)
		if err != nil {
			return err
		}
		for i := range records {
			if records[i].Completed() {
				s.mirror(ctx, round.RoundBarrier(sess.ID, sess.CurrentRound), records[i].ParticipantID, sess.Participants)
			}
		}
	}
	metrics.ActiveSessions.Set(float64(active))
	slog.Info("sessions restored", "active", active, "total", len(sessions))
	return nil
}

func (s *Service) broadcast(ev Event) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(ev)
	}
}

// reject counts a submission turned away by validation or a step guard.
func (s *Service) reject(step round.Step, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		metrics.RejectedDecisions.WithLabelValues(string(step), "invalid").Inc()
	case errors.Is(err, round.ErrWrongStep):
		metrics.RejectedDecisions.WithLabelValues(string(step), "wrong_step").Inc()
	}
}

// fail writes the error response; integrity faults are logged and counted.
func (s *Service) fail(w http.ResponseWriter, p model.Participant, err error) {
	status := statusFor(err)
	if errors.Is(err, model.ErrIntegrity) {
		metrics.IntegrityFaults.Inc()
		slog.Error("integrity fault",
			"session", p.SessionID,
			"participant", p.ID,
			"label", p.Label,
			"err", err,
		)
	} else if status == http.StatusInternalServerError {
		slog.Error("request failed", "participant", p.ID, "err", err)
	}
	writeError(w, err.Error(), status)
}

// statusFor maps an error class onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrIntegrity):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, round.ErrWrongStep), errors.Is(err, errNotFinished):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrConfiguration), errors.Is(err, errBadRound):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
