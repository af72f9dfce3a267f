package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
	"taskboard-api/state"
	"taskboard-api/storage"
)

const (
	routeBoard   = "/api/board"
	routeActions = "/api/actions"
	routeStream  = "/api/board/stream"
)

// Register wires up all API routes on the provided Echo instance. deduper
// and journal are optional.
func Register(e *echo.Echo, boards Boards, auth Authenticator, deduper Deduper, journal JournalSink, logger *log.Logger) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	e.JSONSerializer = SonicSerializer{}

	// http.Server.Shutdown does not cancel hijacked or streaming requests.
	streams, stopStreams := context.WithCancel(context.Background())
	e.Server.RegisterOnShutdown(stopStreams)

	e.GET(routeBoard, getBoard(boards, auth, logger))
	e.POST(routeActions, postActions(boards, auth, deduper, journal, logger), GzipRequestMiddleware())
	e.GET(routeStream, streamBoard(boards, auth, logger, streams))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// startRequest opens the request span and swaps the traced context into
// the request.
func startRequest(c echo.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	metrics, spanCtx := newRequestMetrics(c.Request().Context(), logger, route)
	c.SetRequest(c.Request().WithContext(spanCtx))
	return metrics, spanCtx
}

func authenticate(c echo.Context, auth Authenticator, metrics *requestMetrics) (string, error) {
	start := time.Now()
	userID, err := auth.UserIDFromAuthHeader(authHeader(c.Request()))
	metrics.ObserveAuth(time.Since(start))
	if err != nil {
		metrics.SetErrorStage("auth")
	}
	return userID, err
}

func getBoard(boards Boards, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startRequest(c, logger, http.MethodGet+" "+routeBoard)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, authErr := authenticate(c, auth, metrics)
		if authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		session, sessErr := boards.Session(userID)
		if sessErr != nil {
			metrics.SetErrorStage("session")
			return c.String(http.StatusServiceUnavailable, sessErr.Error())
		}

		snap := session.Snapshot()
		if snap.Phase == state.PhaseLoading && c.QueryParam("wait") == "true" {
			waitStart := time.Now()
			// a cancelled wait still reports the snapshot it ended with
			snap, _ = session.Wait(ctx)
			metrics.ObserveWait(time.Since(waitStart))
		}
		metrics.SetPhase(snap.Phase.String())

		switch snap.Phase {
		case state.PhaseReady:
			encodeStart := time.Now()
			err = c.JSON(http.StatusOK, snap.Board)
			metrics.ObserveEncode(time.Since(encodeStart))
			if err != nil {
				metrics.SetErrorStage("encode_response")
			}
			return err
		case state.PhaseLoading:
			c.Response().Header().Set("Retry-After", "1")
			return c.JSON(http.StatusServiceUnavailable, phaseResponse{Phase: snap.Phase})
		default:
			metrics.SetErrorStage("load")
			msg := ""
			if snap.Err != nil {
				msg = snap.Err.Error()
			}
			return c.JSON(http.StatusInternalServerError, phaseResponse{Phase: snap.Phase, Error: msg})
		}
	}
}

func postActions(boards Boards, auth Authenticator, deduper Deduper, journal JournalSink, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := startRequest(c, logger, http.MethodPost+" "+routeActions)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, authErr := authenticate(c, auth, metrics)
		if authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		envs, actions, status, decodeErr := decodeActions(c.Request().Body)
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.String(status, decodeErr.Error())
		}

		session, sessErr := boards.Session(userID)
		if sessErr != nil {
			metrics.SetErrorStage("session")
			return c.String(http.StatusServiceUnavailable, sessErr.Error())
		}
		snap := session.Snapshot()
		metrics.SetPhase(snap.Phase.String())
		if !snap.Ready() {
			return writeDispatchError(c, metrics, phaseError(snap), postActionsResponse{})
		}

		fresh, dedupeErr := dedupe(ctx, deduper, userID, envs, logger)
		if dedupeErr != nil {
			metrics.SetErrorStage("dedupe")
			logger.WithField("user_id", userID).WithError(dedupeErr).Error("idempotency check failed")
			return c.String(http.StatusInternalServerError, "failed to check idempotency keys")
		}
		toApply := make([]domain.Action, len(fresh))
		for i, idx := range fresh {
			toApply[i] = actions[idx]
		}
		skipped := len(envs) - len(fresh)

		dispatchStart := time.Now()
		board, applied, dispatchErr := session.Dispatch(toApply...)
		metrics.ObserveDispatch(time.Since(dispatchStart))
		metrics.SetActions(len(envs), applied, skipped)

		if journal != nil && applied > 0 {
			journal.Send(userID, journalEntries(envs, fresh[:applied]))
		}

		resp := postActionsResponse{Board: &board, Applied: applied, Skipped: skipped}
		if dispatchErr != nil {
			forget(ctx, deduper, userID, envs, fresh[applied:], logger)
			if errors.Is(dispatchErr, domain.ErrNotFound) {
				logger.WithFields(log.Fields{
					"user_id": userID,
					"action":  actionName(toApply[applied]),
				}).WithError(dispatchErr).Error("action target not found")
			}
			if errors.Is(dispatchErr, state.ErrNotReady) || errors.Is(dispatchErr, state.ErrFailed) || errors.Is(dispatchErr, state.ErrEvicted) {
				resp.Board = nil
			}
			return writeDispatchError(c, metrics, dispatchErr, resp)
		}

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// decodeActions reads the request body as an array of action envelopes. The
// returned status is the one to answer with when err is set.
func decodeActions(body io.Reader) ([]domain.Envelope, []domain.Action, int, error) {
	raw, err := io.ReadAll(io.LimitReader(body, postActionsMaxSize+1))
	if err != nil {
		return nil, nil, http.StatusBadRequest, errors.New("invalid body")
	}
	if len(raw) > postActionsMaxSize {
		return nil, nil, http.StatusRequestEntityTooLarge, errors.New("body too large")
	}

	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	envs := make([]domain.Envelope, 0, 4)
	if err := dec.Decode(&envs); err != nil {
		return nil, nil, http.StatusBadRequest, errors.New("invalid body")
	}

	actions := make([]domain.Action, len(envs))
	for i, env := range envs {
		action, err := domain.DecodeAction(env)
		if err != nil {
			return nil, nil, http.StatusBadRequest, fmt.Errorf("action %d: %w", i, err)
		}
		actions[i] = action
	}
	return envs, actions, 0, nil
}

// dedupe returns the indexes of envelopes that have not been seen before.
// Envelopes without an idempotency key are always fresh.
func dedupe(ctx context.Context, deduper Deduper, userID string, envs []domain.Envelope, logger *log.Logger) ([]int, error) {
	fresh := make([]int, 0, len(envs))
	if deduper == nil {
		for i := range envs {
			fresh = append(fresh, i)
		}
		return fresh, nil
	}

	keyed := make([]int, 0, len(envs))
	keys := make([]string, 0, len(envs))
	for i, env := range envs {
		if env.IdempotencyKey != "" {
			keyed = append(keyed, i)
			keys = append(keys, env.IdempotencyKey)
		}
	}

	added, err := deduper.AddMany(ctx, userID, keys)
	if err != nil {
		for i, ok := range added {
			if !ok {
				continue
			}
			if rerr := deduper.Remove(ctx, userID, keys[i]); rerr != nil {
				logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, keys[i], userID)
			}
		}
		return nil, err
	}

	isNew := make(map[int]bool, len(keyed))
	for j, idx := range keyed {
		isNew[idx] = added[j]
	}
	for i, env := range envs {
		if env.IdempotencyKey == "" || isNew[i] {
			fresh = append(fresh, i)
		}
	}
	return fresh, nil
}

// forget releases the idempotency keys of actions that were not applied so
// the client may send them again.
func forget(ctx context.Context, deduper Deduper, userID string, envs []domain.Envelope, idxs []int, logger *log.Logger) {
	if deduper == nil {
		return
	}
	for _, idx := range idxs {
		key := envs[idx].IdempotencyKey
		if key == "" {
			continue
		}
		if err := deduper.Remove(ctx, userID, key); err != nil {
			logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", err, key, userID)
		}
	}
}

func journalEntries(envs []domain.Envelope, idxs []int) []storage.JournalEntry {
	entries := make([]storage.JournalEntry, len(idxs))
	ts := nextTimestampRange(len(idxs))
	for i, idx := range idxs {
		entries[i] = storage.JournalEntry{Action: envs[idx], Timestamp: ts + int64(i)}
	}
	return entries
}

func phaseError(snap state.Snapshot) error {
	if snap.Phase == state.PhaseFailed {
		return fmt.Errorf("%w: %v", state.ErrFailed, snap.Err)
	}
	return state.ErrNotReady
}

func writeDispatchError(c echo.Context, metrics *requestMetrics, err error, resp postActionsResponse) error {
	status := statusForError(err)
	metrics.SetErrorStage("dispatch")
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	resp.Error = err.Error()
	return c.JSON(status, resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, state.ErrNotReady), errors.Is(err, state.ErrEvicted):
		return http.StatusServiceUnavailable
	case errors.Is(err, state.ErrFailed):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIndexOutOfRange), errors.Is(err, domain.ErrInvalidDragItem):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMalformedAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func actionName(a domain.Action) string {
	if a == nil {
		return "nil"
	}
	return string(a.Type())
}
