// Package n2n implements the node-to-node dlt.Source: a libp2p host that
// dials a Cardano relay speaking a dedicated chain-sync protocol and decodes
// PRISM-bearing blocks as they arrive. The blocking stream read runs on its
// own goroutine (the "dedicated OS thread" of spec.md §5) and bridges
// events into a bounded channel.
package n2n

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	golibp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"

	"github.com/prism-node/prism/internal/dlt"
	"github.com/prism-node/prism/internal/operation"
	"github.com/prism-node/prism/internal/store"
)

// ChainSyncProtocol is the dedicated protocol ID a PRISM-aware relay speaks
// chain-sync blocks over.
const ChainSyncProtocol protocol.ID = "/prism/chain-sync/1.0.0"

// Config configures a node-to-node source.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	Logger         *logrus.Logger
}

// wireBlock is the framed message a chain-sync peer sends for each
// confirmed block carrying at least one PRISM operation.
type wireBlock struct {
	BlockNo       uint64
	Absn          uint32
	TxID          string
	Slot          uint64
	BlockTimeUnix int64
	Operations    [][]byte // each entry is a wireSignedOperation, RLP-framed
}

type wireSignedOperation struct {
	SignedWith string
	Signature  []byte
	OpBytes    []byte
}

// Source is a dlt.Source backed by a libp2p host.
type Source struct {
	cfg      Config
	host     host.Host
	observer *dlt.CursorObserver
	logger   *logrus.Logger
}

// New creates the libp2p host and returns a Source ready to stream once
// IntoStream is called. Connection to bootstrap peers is attempted
// eagerly but failures are logged, not fatal: IntoStream's own reconnect
// loop retries.
func New(ctx context.Context, cfg Config) (*Source, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h, err := golibp2p.New(golibp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		return nil, fmt.Errorf("dlt/n2n: create host: %w", err)
	}

	s := &Source{cfg: cfg, host: h, observer: dlt.NewCursorObserver(), logger: logger}
	s.dialBootstrap(ctx)
	return s, nil
}

func (s *Source) dialBootstrap(ctx context.Context) {
	for _, addr := range s.cfg.BootstrapPeers {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			s.logger.Warnf("dlt/n2n: invalid bootstrap addr %s: %v", addr, err)
			continue
		}
		if err := s.host.Connect(ctx, *pi); err != nil {
			s.logger.Warnf("dlt/n2n: connect %s: %v", addr, err)
			continue
		}
		s.logger.Infof("dlt/n2n: connected to relay %s", addr)
	}
}

// SyncCursor returns the observer this source publishes its position to.
func (s *Source) SyncCursor() *dlt.CursorObserver { return s.observer }

// IntoStream starts the receive loop: it opens a chain-sync stream to the
// first connected peer (redialing the bootstrap peers while none is
// connected) and reads framed blocks until ctx is canceled, restarting
// after dlt.SyncWorkerRestartDelay on any read error or after
// dlt.ChainSyncIdleTimeout with no events, per spec.md §4.3.6.
func (s *Source) IntoStream(ctx context.Context) (<-chan dlt.PublishedPrismObject, error) {
	out := make(chan dlt.PublishedPrismObject, dlt.PublishedObjectBufferSize)
	go s.receiveLoop(ctx, out)
	return out, nil
}

func (s *Source) receiveLoop(ctx context.Context, out chan<- dlt.PublishedPrismObject) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		peers := s.host.Network().Peers()
		if len(peers) == 0 {
			s.dialBootstrap(ctx)
			peers = s.host.Network().Peers()
		}
		if len(peers) == 0 {
			s.logger.Warn("dlt/n2n: no connected relay, retrying")
			if !sleepOrDone(ctx, dlt.SyncWorkerRestartDelay) {
				return
			}
			continue
		}

		str, err := s.host.NewStream(ctx, peers[0], ChainSyncProtocol)
		if err != nil {
			s.logger.Warnf("dlt/n2n: open chain-sync stream: %v", err)
			if !sleepOrDone(ctx, dlt.SyncWorkerRestartDelay) {
				return
			}
			continue
		}

		if err := s.readStream(ctx, str, out); err != nil && err != io.EOF {
			s.logger.Warnf("dlt/n2n: chain-sync stream error: %v", err)
		}
		str.Close()

		if !sleepOrDone(ctx, dlt.SyncWorkerRestartDelay) {
			return
		}
	}
}

// readStream decodes length-prefixed, RLP-encoded wireBlock messages until
// the stream errors, ctx is canceled, or dlt.ChainSyncIdleTimeout elapses
// with no message.
func (s *Source) readStream(ctx context.Context, str network.Stream, out chan<- dlt.PublishedPrismObject) error {
	r := bufio.NewReader(str)
	idle := time.NewTimer(dlt.ChainSyncIdleTimeout)
	defer idle.Stop()

	msgs := make(chan wireBlock)
	errs := make(chan error, 1)
	go func() {
		for {
			var length uint32
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				errs <- err
				return
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(r, buf); err != nil {
				errs <- err
				return
			}
			var blk wireBlock
			if err := rlp.DecodeBytes(buf, &blk); err != nil {
				s.logger.Warnf("dlt/n2n: malformed block frame, skipping: %v", err)
				continue
			}
			msgs <- blk
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			return fmt.Errorf("dlt/n2n: no event for %s, reconnecting", dlt.ChainSyncIdleTimeout)
		case err := <-errs:
			return err
		case blk := <-msgs:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(dlt.ChainSyncIdleTimeout)

			obj, err := decodeWireBlock(blk)
			if err != nil {
				s.logger.Warnf("dlt/n2n: undecodable operation in block %d, skipping: %v", blk.BlockNo, err)
				continue
			}
			select {
			case out <- obj:
				s.observer.Set(store.DltCursor{Slot: int64(blk.Slot)})
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func decodeWireBlock(blk wireBlock) (dlt.PublishedPrismObject, error) {
	meta := dlt.BlockMetadata{
		BlockNo:   blk.BlockNo,
		Absn:      blk.Absn,
		TxID:      blk.TxID,
		Slot:      blk.Slot,
		BlockTime: time.Unix(blk.BlockTimeUnix, 0).UTC(),
	}

	ops := make([]operation.SignedOperation, 0, len(blk.Operations))
	for _, raw := range blk.Operations {
		var wso wireSignedOperation
		if err := rlp.DecodeBytes(raw, &wso); err != nil {
			return dlt.PublishedPrismObject{}, fmt.Errorf("decode signed operation envelope: %w", err)
		}
		op, err := operation.Decode(wso.OpBytes)
		if err != nil {
			return dlt.PublishedPrismObject{}, fmt.Errorf("decode operation: %w", err)
		}
		ops = append(ops, operation.SignedOperation{SignedWith: wso.SignedWith, Signature: wso.Signature, Operation: op})
	}
	return dlt.PublishedPrismObject{Metadata: meta, Operations: ops}, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
