package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/highscore-backend/internal/auth"
	"github.com/hatemosphere/highscore-backend/internal/engine"
)

// Command names.
const (
	cmdGetNonce  = "get_nonce"
	cmdGetScores = "get_scores"
	cmdAddScore  = "add_score"
)

var errMalformedField = errors.New("malformed field")

func (s *Server) registerHighscore(api huma.API) {
	for _, route := range []struct{ id, path string }{
		{"runCommand", "/highscore"},
		{"runCommandLegacy", "/highscore.php"},
	} {
		huma.Register(api, huma.Operation{
			OperationID: route.id,
			Method:      http.MethodPost,
			Path:        route.path,
			Tags:        []string{"Highscore"},
			Summary:     "Run a highscore command",
			RequestBody: &huma.RequestBody{
				Required: false,
				Content: map[string]*huma.MediaType{
					"application/x-www-form-urlencoded": {Schema: &huma.Schema{Type: huma.TypeString}},
				},
			},
			MaxBodyBytes: s.maxBodyBytes,
		}, s.runCommand)
	}
}

// runCommand parses the form body and dispatches the command. Every outcome,
// including errors, is a 200 response carrying an Envelope.
func (s *Server) runCommand(ctx context.Context, input *CommandInput) (*CommandOutput, error) {
	trace := traceFromContext(ctx)
	// Form parse errors leave whatever pairs decoded cleanly.
	form, _ := url.ParseQuery(string(input.RawBody))

	command, ok := formValue(form, "command", input.Command)
	if !ok {
		trace.errorID = ErrIDMissingData
		return &CommandOutput{Body: Envelope{Error: ErrIDMissingData, Response: map[string]any{}}}, nil
	}
	trace.command = command

	reply := func(id string, response any) (*CommandOutput, error) {
		trace.errorID = id
		if response == nil {
			response = emptyResponse()
		}
		return &CommandOutput{Body: Envelope{Error: id, Command: command, Response: response}}, nil
	}

	data, ok := formValue(form, "data", input.Data)
	if !ok {
		return reply(ErrIDMissingData, nil)
	}

	if err := s.engine.Ping(ctx); err != nil {
		slog.Error("storage unavailable", "error", err)
		return reply(ErrIDDBLoginError, nil)
	}

	fields, err := decodePayload(data)
	if err != nil {
		return reply(ErrIDInvalidJSON, nil)
	}

	clientKey := auth.ClientKeyFromContext(ctx)
	trace.client = clientKey

	switch command {
	case cmdGetNonce:
		nonce, err := s.auth.IssueNonce(ctx, clientKey)
		if err != nil {
			slog.Error("failed to issue nonce", "error", err)
			return reply(ErrIDDBLoginError, nil)
		}
		noncesIssuedTotal.Inc()
		return reply(ErrIDNone, NonceResponse{Nonce: nonce})

	case cmdGetScores:
		if id := s.authenticate(ctx, clientKey, input); id != "" {
			return reply(id, nil)
		}
		offset := 0
		limit := s.engine.DefaultPageSize()
		if v, ok := fields["score_offset"]; ok {
			offset = max(0, looseInt(v))
		}
		if v, ok := fields["score_number"]; ok {
			limit = max(1, looseInt(v))
		}
		records, err := s.engine.ListRanked(ctx, offset, limit)
		if err != nil {
			slog.Error("failed to list scores", "error", err)
			return reply(ErrIDDBLoginError, nil)
		}
		page := make(ScorePage, len(records))
		for i, r := range records {
			page[i] = ScoreEntry{Username: r.Username, Score: r.Score}
		}
		return reply(ErrIDNone, page)

	case cmdAddScore:
		if id := s.authenticate(ctx, clientKey, input); id != "" {
			return reply(id, nil)
		}
		rawScore, ok := fields["score"]
		if !ok {
			return reply(ErrIDMissingScore, nil)
		}
		rawName, ok := fields["username"]
		if !ok {
			return reply(ErrIDMissingUsername, nil)
		}
		score, err := strictInt(rawScore)
		if err != nil {
			return reply(ErrIDInvalidJSON, nil)
		}
		username, err := stringField(rawName)
		if err != nil {
			return reply(ErrIDInvalidJSON, nil)
		}
		if username == "" {
			return reply(ErrIDMissingUsername, nil)
		}
		trace.username = engine.TruncateUsername(username)
		trace.score = &score
		if err := s.engine.SubmitScore(ctx, username, score); err != nil {
			slog.Error("failed to submit score", "error", err)
			return reply(ErrIDDBLoginError, nil)
		}
		return reply(ErrIDNone, nil)

	default:
		return reply(ErrIDInvalidCommand, nil)
	}
}

// authenticate consumes the client's nonce and checks the request signature.
// It returns "" when the request is authorized, otherwise the error identifier.
func (s *Server) authenticate(ctx context.Context, clientKey string, input *CommandInput) string {
	trace := traceFromContext(ctx)
	trace.protected = true

	err := s.auth.Authenticate(ctx, auth.Challenge{
		ClientKey: clientKey,
		Counter:   input.CNonce,
		Signature: input.Hash,
		Body:      input.RawBody,
	})
	if err == nil {
		authDecisionsTotal.WithLabelValues("granted").Inc()
		return ""
	}

	id := authErrorID(err)
	authDecisionsTotal.WithLabelValues(id).Inc()
	if id == ErrIDDBLoginError {
		slog.Error("nonce verification failed", "error", err)
	}
	return id
}

// formValue returns the named field from the form body, falling back to the
// query string. A field present with an empty value counts as present.
func formValue(form url.Values, name, fallback string) (string, bool) {
	if vs, ok := form[name]; ok && len(vs) > 0 {
		return vs[0], true
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

// decodePayload parses the data field. JSON null and syntax errors are
// malformed; a valid non-object document yields no fields. Fields whose
// value is null count as absent.
func decodePayload(data string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	if v == nil {
		return nil, errors.New("null payload")
	}

	fields := map[string]any{}
	if obj, ok := v.(map[string]any); ok {
		for k, val := range obj {
			if val != nil {
				fields[k] = val
			}
		}
	}
	return fields, nil
}

// strictInt accepts JSON integers, integral floats and numeric strings.
func strictInt(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return numberToInt(string(t))
	case string:
		return numberToInt(strings.TrimSpace(t))
	}
	return 0, errMalformedField
}

func numberToInt(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errMalformedField
	}
	return int64(f), nil
}

// looseInt converts pagination fields the forgiving way: fractions are
// truncated and anything non-numeric is zero.
func looseInt(v any) int {
	var f float64
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return clampInt(n)
		}
		f, _ = t.Float64()
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return clampInt(n)
		}
		f, _ = strconv.ParseFloat(s, 64)
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	f = math.Trunc(f)
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	if f <= math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

func clampInt(n int64) int {
	return int(max(min(n, math.MaxInt32), math.MinInt32))
}

// stringField accepts JSON strings and numbers as a username.
func stringField(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	}
	return "", errMalformedField
}

// --- Per-request command trace ---

// commandTrace collects what the handler decided so the audit middleware can
// log and count it after the response is built.
type commandTrace struct {
	command   string
	errorID   string
	client    string
	protected bool
	username  string
	score     *int64
}

type traceKey struct{}

func withTrace(ctx context.Context, t *commandTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// traceFromContext returns the request's trace, or a throwaway one when the
// handler runs without the audit middleware.
func traceFromContext(ctx context.Context) *commandTrace {
	if t, ok := ctx.Value(traceKey{}).(*commandTrace); ok {
		return t
	}
	return &commandTrace{}
}
