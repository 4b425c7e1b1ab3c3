package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Priceless-P/BoxPeer-Web/internal/catalog"
	"github.com/Priceless-P/BoxPeer-Web/internal/fetcher"
	"github.com/Priceless-P/BoxPeer-Web/internal/identity"
	"github.com/Priceless-P/BoxPeer-Web/internal/logging"
	"github.com/Priceless-P/BoxPeer-Web/internal/session"
)

var (
	outDir  string
	keep    bool
	partial bool
)

// FetchCmd represents the fetch command
var FetchCmd = &cobra.Command{
	Use:   "fetch [cid...]",
	Short: "Fetch files from the retrieval gateway",
	Long: `Fetch files by CID from the retrieval gateway in a single batch.

CIDs come from the arguments, or from [catalog] in the configuration when
none are given. Received files are written to --out (named by CID) and,
with --keep, stored in the local blockstore.`,
	RunE: runFetch,
}

func init() {
	FetchCmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write received files to")
	FetchCmd.Flags().BoolVar(&keep, "keep", false, "Store received files in the local blockstore")
	FetchCmd.Flags().BoolVar(&partial, "partial", false, "Succeed with whatever arrived when the wait times out")
}

func runFetch(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := setup()
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(e.close))

	id, err := identity.New(e.store, e.cfg.Identity.Slot, e.log).GetOrCreate(ctx)
	if err != nil {
		return err
	}

	var cat catalog.Catalog
	if len(args) > 0 {
		cat = catalog.NewStatic(args)
	} else {
		cat = catalog.FromConfig(e.cfg.Catalog)
	}

	header := http.Header{}
	header.Set("X-Peer-ID", id.PeerID().String())
	f := fetcher.New(e.cfg.Gateway.URL,
		fetcher.WithLogger(e.log),
		fetcher.WithSink(logging.NewZapSink(e.log)),
		fetcher.WithHeader(header),
		fetcher.WithReadLimit(e.cfg.WebSocket.MaxMessageBytes),
		fetcher.WithDialer(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: e.cfg.Gateway.HandshakeTimeout.Duration,
			ReadBufferSize:   e.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  e.cfg.WebSocket.WriteBufferSize,
		}),
	)

	s := session.New(f, cat, e.log)
	defer multierr.AppendInvoke(&err, multierr.Invoke(s.Close))

	waitCtx, waitCancel := context.WithTimeout(ctx, e.cfg.Gateway.WaitTimeout.Duration)
	defer waitCancel()
	if err := s.Start(waitCtx); err != nil {
		return err
	}

	want := cat.CIDs()
	if len(want) == 0 {
		return fmt.Errorf("no CIDs to fetch")
	}

	records, werr := s.Wait(waitCtx, want)
	if werr != nil {
		if !partial || !(errors.Is(werr, context.DeadlineExceeded) || errors.Is(werr, session.ErrIncomplete)) {
			return fmt.Errorf("fetch failed (%d of %d files received): %w", f.Len(), len(want), werr)
		}
		e.log.Warn("returning partial result", zap.Int("received", len(records)), zap.Int("wanted", len(want)), zap.Error(werr))
	}

	return writeRecords(ctx, cmd, e, records)
}

func writeRecords(ctx context.Context, cmd *cobra.Command, e *env, records []fetcher.Record) error {
	out := cmd.OutOrStdout()
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	bs, err := e.blocks()
	if err != nil {
		return err
	}

	for _, r := range records {
		if outDir != "" {
			name, err := safeName(r.CID)
			if err != nil {
				e.log.Warn("skipping file", zap.String("cid", r.CID), zap.Error(err))
				continue
			}
			if err := os.WriteFile(filepath.Join(outDir, name), r.Data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", name, err)
			}
		}
		if keep {
			c, err := bs.Put(ctx, r.Data)
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", r.CID, err)
			}
			if c.String() != r.CID {
				e.log.Info("stored under a different CID", zap.String("requested", r.CID), zap.Stringer("stored", c))
			}
		}
		fmt.Fprintf(out, "%s\t%d bytes\n", r.CID, len(r.Data))
	}
	return nil
}

// safeName rejects CIDs that cannot be used as a plain file name
func safeName(c string) (string, error) {
	if c == "" || strings.HasPrefix(c, ".") || filepath.Base(c) != c || strings.ContainsAny(c, `/\`) {
		return "", fmt.Errorf("unusable file name %q", c)
	}
	return c, nil
}
