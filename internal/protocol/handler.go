package protocol

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// ContentSource resolves CIDs to file bytes (Dependency Inversion)
type ContentSource interface {
	GetFile(ctx context.Context, c cid.Cid) ([]byte, error)
}

// SendFunc writes one text frame to the client
type SendFunc func(frame []byte) error

// Result counts what one request produced
type Result struct {
	FilesSent   int
	FetchErrors int
	// Rejected is ErrNoValidCIDs or ErrUnknownCommand when the frame was not a usable batch
	Rejected error
}

// Handler serves client text frames on the gateway side
type Handler struct {
	source ContentSource
}

// NewHandler creates a handler fetching from source
func NewHandler(source ContentSource) *Handler {
	return &Handler{source: source}
}

// HandleClientMessage processes one text frame from a client.
// A batch request fetches each CID in order and sends one file frame per
// success and one error reply per failure. Anything else gets a text reply.
// The returned error is only set when send fails or ctx ends.
func (h *Handler) HandleClientMessage(ctx context.Context, text string, send SendFunc) (Result, error) {
	var res Result

	cids, err := ParseGetFiles(text)
	switch err {
	case nil:
	case ErrNoValidCIDs:
		res.Rejected = err
		return res, send([]byte(ReplyNoValidCIDs))
	default:
		res.Rejected = ErrUnknownCommand
		return res, send([]byte(ReplyUnknownCommand))
	}

	for _, c := range cids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		data, err := h.source.GetFile(ctx, c)
		if err != nil {
			res.FetchErrors++
			if err := send([]byte(FetchErrorReply(c, err))); err != nil {
				return res, err
			}
			continue
		}

		frame, err := EncodeFileMessage(c.String(), data)
		if err != nil {
			return res, fmt.Errorf("failed to encode file %s: %w", c, err)
		}
		if err := send(frame); err != nil {
			return res, err
		}
		res.FilesSent++
	}
	return res, nil
}
