// Package protocol defines the text frames exchanged between a content
// fetcher and a retrieval gateway.
//
// Client to gateway: one frame "GET_FILES:<cid1>,<cid2>,...".
// Gateway to client: one JSON frame {"cid": "...", "data": "<base64>"} per
// file, or a plain text reply when a request cannot be served.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

// GetFilesPrefix starts every batch request
const GetFilesPrefix = "GET_FILES:"

// Gateway text replies
const (
	ReplyNoValidCIDs    = "No valid CIDs provided"
	ReplyUnknownCommand = "Unknown command"
)

var (
	// ErrMalformedMessage marks an inbound frame that is not a file message
	ErrMalformedMessage = errors.New("malformed message")
	ErrNoValidCIDs      = errors.New("no valid CIDs provided")
	ErrUnknownCommand   = errors.New("unknown command")
)

// FileMessage carries one file from the gateway
type FileMessage struct {
	CID  string `json:"cid"`
	Data []byte `json:"data"` // base64 on the wire
}

// wireFileMessage distinguishes a missing data field from an empty one
type wireFileMessage struct {
	CID  string  `json:"cid"`
	Data *string `json:"data"`
}

// FormatGetFiles joins cids into a batch request in caller order
// Returns "" for an empty list; an empty request must not be sent
func FormatGetFiles(cids []string) string {
	if len(cids) == 0 {
		return ""
	}
	return GetFilesPrefix + strings.Join(cids, ",")
}

// ParseGetFiles extracts the valid CIDs from a batch request
// Entries that do not parse as CIDs are dropped
func ParseGetFiles(text string) ([]cid.Cid, error) {
	if !strings.HasPrefix(text, GetFilesPrefix) {
		return nil, ErrUnknownCommand
	}
	var cids []cid.Cid
	for _, s := range strings.Split(strings.TrimPrefix(text, GetFilesPrefix), ",") {
		c, err := cid.Decode(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		cids = append(cids, c)
	}
	if len(cids) == 0 {
		return nil, ErrNoValidCIDs
	}
	return cids, nil
}

// EncodeFileMessage renders a file frame with standard base64 data
func EncodeFileMessage(c string, data []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(data)
	return json.Marshal(wireFileMessage{CID: c, Data: &encoded})
}

// DecodeFileMessage parses a file frame. Every failure wraps ErrMalformedMessage.
func DecodeFileMessage(raw []byte) (*FileMessage, error) {
	var w wireFileMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if w.CID == "" {
		return nil, fmt.Errorf("%w: missing cid", ErrMalformedMessage)
	}
	if w.Data == nil {
		return nil, fmt.Errorf("%w: missing data for %s", ErrMalformedMessage, w.CID)
	}
	data, err := base64.StdEncoding.DecodeString(*w.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 for %s: %v", ErrMalformedMessage, w.CID, err)
	}
	return &FileMessage{CID: w.CID, Data: data}, nil
}

// FetchErrorReply is the text sent when one CID in a batch cannot be fetched
func FetchErrorReply(c cid.Cid, err error) string {
	return fmt.Sprintf("Error fetching file for CID %s: %v", c, err)
}
