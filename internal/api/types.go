package api

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// CommandInput is the raw command request. Form fields are parsed from
// RawBody by the handler because the signature covers the exact body bytes.
type CommandInput struct {
	Command string `query:"command" doc:"Command name, used when the form body has none"`
	Data    string `query:"data" doc:"JSON payload, used when the form body has none"`
	CNonce  string `header:"cnonce" doc:"Client counter-value"`
	Hash    string `header:"hash" doc:"sha256(nonce + cnonce + body + secret), lowercase hex"`
	RawBody []byte `contentType:"application/x-www-form-urlencoded"`
}

// CommandOutput wraps every command result, successful or not.
type CommandOutput struct {
	Body Envelope
}

// NonceResponse is the get_nonce result.
type NonceResponse struct {
	Nonce string `json:"nonce"`
}

// ScoreEntry is one leaderboard row.
type ScoreEntry struct {
	Username string `json:"username"`
	Score    int64  `json:"score"`
}

// ScorePage is the get_scores result. It encodes as an object keyed by rank
// within the page ("0", "1", ...) plus "size", the number of entries.
type ScorePage []ScoreEntry

// MarshalJSON writes the entries in rank order followed by "size".
func (p ScorePage) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p {
		entry, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(i)))
		buf.WriteByte(':')
		buf.Write(entry)
		buf.WriteByte(',')
	}
	buf.WriteString(`"size":`)
	buf.WriteString(strconv.Itoa(len(p)))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// --- Management ---

// HealthCheckOutput is the response for health and readiness checks.
type HealthCheckOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// CreateBackupOutput is the response for the backup creation endpoint.
type CreateBackupOutput struct {
	Body struct {
		Key string `json:"key" doc:"Snapshot name within the backup directory"`
	}
}
