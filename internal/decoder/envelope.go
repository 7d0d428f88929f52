package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// envelope is the Debezium change event as published by the server sink.
type envelope struct {
	Op      string         `json:"op"`
	Before  map[string]any `json:"before"`
	After   map[string]any `json:"after"`
	TsMs    int64          `json:"ts_ms"`
	Message *message       `json:"message"`
	Source  source         `json:"source"`
}

type message struct {
	Prefix  string `json:"prefix"`
	Content string `json:"content"`
}

type source struct {
	DB     string          `json:"db"`
	Schema string          `json:"schema"`
	Table  string          `json:"table"`
	TxID   int64           `json:"txId"`
	LSN    json.RawMessage `json:"lsn"`
	TsMs   int64           `json:"ts_ms"`
}

func (e *envelope) prefix() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Prefix
}

func parseEnvelope(data []byte) (*envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// parseLSN accepts the log sequence number either as a JSON string or a number.
func parseLSN(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("missing source.lsn")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("invalid source.lsn %s: %w", raw, err)
		}
	}

	pos, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid source.lsn %s: %w", raw, err)
	}
	return pos, nil
}
