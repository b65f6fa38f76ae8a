package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/garimto81/gfx-json/internal/domain"
)

// ParseError signals content that cannot be interpreted. Non-retryable:
// the caller is responsible for side-filing the offending file.
type ParseError struct {
	Reason   string
	FileName string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.FileName, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.FileName, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// gameIDPattern matches the GameID token GFX embeds in export filenames,
// e.g. "PGFX_live_data_export GameID=42.json"
var gameIDPattern = regexp.MustCompile(`GameID=(\d+)`)

// tableTypeMapping normalizes the table type field onto the remote enum.
var tableTypeMapping = map[string]string{
	"feature_table": "FEATURE_TABLE",
	"main_table":    "MAIN_TABLE",
	"final_table":   "FINAL_TABLE",
	"side_table":    "SIDE_TABLE",
	"unknown":       "UNKNOWN",
	"feature":       "FEATURE_TABLE",
	"main":          "MAIN_TABLE",
	"final":         "FINAL_TABLE",
	"side":          "SIDE_TABLE",
	"cash":          "MAIN_TABLE",
	"tournament":    "MAIN_TABLE",
}

// Parser turns raw GFX JSON export bytes into a ParsedRecord.
// Pure over its inputs; no file system access.
type Parser struct{}

// New creates a new parser
func New() *Parser {
	return &Parser{}
}

// Parse parses rawBytes into a record for the remote store.
//
// The fingerprint is SHA-256 over rawBytes. The session ID is extracted via
// an ordered fallback chain (ID, session_id, session.id, id, then a GameID
// token in the filename); if every fallback fails the content is rejected
// with a ParseError rather than assigned a sentinel ID.
func (p *Parser) Parse(rawBytes []byte, fileName string, sourceID string) (*domain.ParsedRecord, error) {
	// Strip UTF-8 BOM if present, GFX exports from Windows often carry one
	trimmed := strings.TrimPrefix(string(rawBytes), "\ufeff")

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", FileName: fileName, Err: err}
	}

	sessionID, ok := extractSessionID(data, fileName)
	if !ok {
		return nil, &ParseError{Reason: "no session identifier in payload or filename", FileName: fileName}
	}

	record := domain.Record{
		FileHash:  Fingerprint(rawBytes),
		FileName:  fileName,
		NasPath:   fmt.Sprintf("/nas/%s/%s", sourceID, fileName),
		SessionID: sessionID,
		GfxPCID:   sourceID,
		TableType: extractTableType(data),
		RawJSON:   json.RawMessage(trimmed),
	}

	// Optional aggregates: missing fields omit the aggregate, never fail the parse
	if title, ok := extractStringField(data, "EventTitle", "event_title", "eventTitle"); ok {
		record.EventTitle = &title
	}
	if version, ok := extractStringField(data, "SoftwareVersion", "software_version", "softwareVersion"); ok {
		record.SoftwareVersion = &version
	}
	record.HandCount = countHands(data)
	record.PlayerCount = countPlayers(data)
	record.Payouts = extractPayouts(data)

	return &domain.ParsedRecord{Record: record}, nil
}

// Fingerprint returns the hex-encoded SHA-256 of raw file content.
// Identical bytes always yield the identical fingerprint.
func Fingerprint(rawBytes []byte) string {
	sum := sha256.Sum256(rawBytes)
	return hex.EncodeToString(sum[:])
}

// extractSessionID walks the fallback chain for the session identifier:
//  1. {"ID": 123}              PascalCase (export format docs)
//  2. {"session_id": 123}      snake_case
//  3. {"session": {"id": 123}} nested
//  4. {"id": 123}              lowercase
//  5. GameID=<n> token in the filename
func extractSessionID(data map[string]interface{}, fileName string) (int64, bool) {
	for _, key := range []string{"ID", "session_id"} {
		if v, ok := data[key]; ok {
			if id, ok := toInt64(v); ok {
				return id, true
			}
		}
	}

	if session, ok := data["session"].(map[string]interface{}); ok {
		if v, ok := session["id"]; ok {
			if id, ok := toInt64(v); ok {
				return id, true
			}
		}
	}

	if v, ok := data["id"]; ok {
		if id, ok := toInt64(v); ok {
			return id, true
		}
	}

	if m := gameIDPattern.FindStringSubmatch(fileName); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id, true
		}
	}

	return 0, false
}

// extractTableType maps the table type field onto the remote enum,
// defaulting to UNKNOWN
func extractTableType(data map[string]interface{}) string {
	value, ok := extractStringField(data, "Type", "table_type", "tableType")
	if !ok || value == "" {
		return "UNKNOWN"
	}
	if mapped, ok := tableTypeMapping[strings.ToLower(strings.TrimSpace(value))]; ok {
		return mapped
	}
	return "UNKNOWN"
}

// extractStringField tries each cased variant of a field at the top level,
// then inside a nested "session" object
func extractStringField(data map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			return fmt.Sprintf("%v", v), true
		}
	}
	if session, ok := data["session"].(map[string]interface{}); ok {
		for _, key := range keys {
			if v, ok := session[key]; ok {
				return fmt.Sprintf("%v", v), true
			}
		}
	}
	return "", false
}

// countHands counts entries of the Hands array, falling back to an explicit
// hand_count field
func countHands(data map[string]interface{}) int {
	for _, key := range []string{"Hands", "hands"} {
		if hands, ok := data[key].([]interface{}); ok {
			return len(hands)
		}
	}
	for _, key := range []string{"hand_count", "handCount"} {
		if v, ok := data[key]; ok {
			if n, ok := toInt64(v); ok {
				return int(n)
			}
		}
	}
	return 0
}

// countPlayers counts distinct players across all hands, identified by Name
// or, when unnamed, by PlayerNum
func countPlayers(data map[string]interface{}) int {
	for _, key := range []string{"player_count", "playerCount"} {
		if v, ok := data[key]; ok {
			if n, ok := toInt64(v); ok {
				return int(n)
			}
		}
	}

	hands, ok := data["Hands"].([]interface{})
	if !ok {
		hands, ok = data["hands"].([]interface{})
		if !ok {
			return 0
		}
	}

	seen := make(map[string]struct{})
	for _, h := range hands {
		hand, ok := h.(map[string]interface{})
		if !ok {
			continue
		}
		players, ok := hand["Players"].([]interface{})
		if !ok {
			players, _ = hand["players"].([]interface{})
		}
		for _, pl := range players {
			player, ok := pl.(map[string]interface{})
			if !ok {
				continue
			}
			if name, ok := extractPlayerName(player); ok {
				seen[name] = struct{}{}
			}
		}
	}
	return len(seen)
}

func extractPlayerName(player map[string]interface{}) (string, bool) {
	for _, key := range []string{"Name", "name"} {
		if name, ok := player[key].(string); ok && name != "" {
			return name, true
		}
	}
	for _, key := range []string{"PlayerNum", "playerNum"} {
		if v, ok := player[key]; ok {
			if n, ok := toInt64(v); ok {
				return fmt.Sprintf("player_%d", n), true
			}
		}
	}
	return "", false
}

func extractPayouts(data map[string]interface{}) []int64 {
	for _, key := range []string{"Payouts", "payouts"} {
		raw, ok := data[key].([]interface{})
		if !ok {
			continue
		}
		payouts := make([]int64, 0, len(raw))
		for _, v := range raw {
			if n, ok := toInt64(v); ok {
				payouts = append(payouts, n)
			}
		}
		return payouts
	}
	return nil
}

// toInt64 accepts JSON numbers and numeric strings
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
