package claudeusage

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// RawPayload is everything one fetch returned, before normalization. Usage
// bodies are kept verbatim so that schema drift is handled in one place.
type RawPayload struct {
	FetchedAt time.Time
	Orgs      []OrgPayload
}

// OrgPayload is the usage body of one organization.
type OrgPayload struct {
	ID    string
	Name  string
	Usage json.RawMessage
}

type organization struct {
	UUID        string          `json:"uuid"`
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"display_name"`
}

// id prefers the uuid. The numeric or string "id" is the fallback; null
// counts as absent.
func (o organization) id() string {
	if o.UUID != "" {
		return o.UUID
	}
	raw := bytes.TrimSpace(o.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func (o organization) label() string {
	switch {
	case o.Name != "":
		return o.Name
	case o.DisplayName != "":
		return o.DisplayName
	default:
		return o.id()
	}
}

// apiError is the error envelope claude.ai returns on failures.
type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
