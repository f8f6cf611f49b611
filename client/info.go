package client

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Info is a decoded v4 INFO response. Fields beyond the requested INFO
// level are left at their zero values.
type Info struct {
	Software     string        `json:"software"`
	Organization string        `json:"organization"`
	Capability   []string      `json:"capability"`
	Station      []InfoStation `json:"station"`
}

// InfoStation describes one station in an INFO STATIONS response.
type InfoStation struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	StartSeq    uint64 `json:"start_seq"`
	EndSeq      uint64 `json:"end_seq"`
}

// InfoError is the payload of a v4 ERROR response.
type InfoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type infoEnvelope struct {
	Error *InfoError `json:"error"`
}

// ParseInfo decodes a v4 JSON INFO payload (payload format 'J',
// subformat 'I').
func ParseInfo(payload []byte) (*Info, error) {
	var info Info
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("client: decode INFO payload: %w", err)
	}
	return &info, nil
}

// ParseError decodes a v4 JSON ERROR payload (payload format 'J',
// subformat 'E').
func ParseError(payload []byte) (*InfoError, error) {
	var env infoEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("client: decode ERROR payload: %w", err)
	}
	if env.Error == nil {
		return nil, fmt.Errorf("client: ERROR payload missing error object")
	}
	return env.Error, nil
}

// logErrorPayload surfaces a decoded ERROR response in the diagnostics.
func (c *Client) logErrorPayload(payload []byte) {
	if e, err := ParseError(payload); err == nil {
		c.Log.Logf(2, 0, "[%s] server error %s: %s", c.Addr, e.Code, e.Message)
	}
}
