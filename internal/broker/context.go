package broker

import (
	"context"
	"log/slog"

	"github.com/abrmd-go/tabrmd/internal/logger"
	"github.com/abrmd-go/tabrmd/internal/tpm2header"
	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
	"github.com/abrmd-go/tabrmd/internal/tpm2sapi"
)

// ContextSave externalizes handle's TPM-internal state into a ContextBlob,
// under the broker's mutex.
func (b *Broker) ContextSave(ctx context.Context, handle uint32) (tpm2sapi.ContextBlob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.structuredCallLocked(ctx, tpm2sapi.CCContextSave, tpm2sapi.MarshalContextSave(handle))
	if err != nil {
		return tpm2sapi.ContextBlob{}, err
	}
	return tpm2sapi.UnmarshalContextSave(resp)
}

// ContextLoad reinstalls a previously saved ContextBlob, returning the
// (possibly numerically different) handle the TPM assigns it.
func (b *Broker) ContextLoad(ctx context.Context, blob tpm2sapi.ContextBlob) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.structuredCallLocked(ctx, tpm2sapi.CCContextLoad, tpm2sapi.MarshalContextLoad(blob))
	if err != nil {
		return 0, err
	}
	return tpm2sapi.UnmarshalContextLoad(resp)
}

// ContextFlush destroys handle's TPM-internal state.
func (b *Broker) ContextFlush(ctx context.Context, handle uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.structuredCallLocked(ctx, tpm2sapi.CCFlushContext, tpm2sapi.MarshalFlushContext(handle))
	b.metrics.RecordFlush(err == nil)
	return err
}

// SaveThenFlush saves handle then flushes it. If save fails, flush is
// skipped and the save error is returned. If flush fails after a
// successful save, the save blob is still returned — the flush error is
// logged but not surfaced, since the context is preserved even if the
// handle could not be explicitly freed.
func (b *Broker) SaveThenFlush(ctx context.Context, handle uint32) (tpm2sapi.ContextBlob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, err := b.structuredCallLocked(ctx, tpm2sapi.CCContextSave, tpm2sapi.MarshalContextSave(handle))
	if err != nil {
		return tpm2sapi.ContextBlob{}, err
	}
	blob, err := tpm2sapi.UnmarshalContextSave(resp)
	if err != nil {
		return tpm2sapi.ContextBlob{}, err
	}

	if _, err := b.structuredCallLocked(ctx, tpm2sapi.CCFlushContext, tpm2sapi.MarshalFlushContext(handle)); err != nil {
		logger.WithLogContext(b.logger, ctx).Warn("flush after save failed, context preserved",
			logger.Handle(handle), logger.Err(err))
	}

	return blob, nil
}

// handleRange is one of the three TPM handle ranges flushed, in order, by
// FlushAllContexts.
type handleRange struct {
	name  string
	first uint32
	last  uint32
}

var flushRanges = []handleRange{
	{"activeSession", tpm2header.ActiveSessionFirst, tpm2header.ActiveSessionLast},
	{"loadedSession", tpm2header.LoadedSessionFirst, tpm2header.LoadedSessionLast},
	{"transient", tpm2header.TransientFirst, tpm2header.TransientLast},
}

// FlushAllContexts queries and flushes every active session, loaded
// session, and transient object, in that order, under a single mutex
// acquisition so it cannot interleave with passthrough commands. It is
// best-effort: a failing GetCapability aborts only that range, and a
// failing FlushContext is logged and does not stop the remaining flushes.
func (b *Broker) FlushAllContexts(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	log := logger.WithLogContext(b.logger, ctx)
	for _, r := range flushRanges {
		handles, err := b.capabilityHandlesLocked(ctx, r.first, r.last-r.first)
		if err != nil {
			log.Warn("flush_all_contexts: capability query failed, skipping range", slog.String("range", r.name), logger.Err(err))
			continue
		}
		for _, h := range handles {
			_, err := b.structuredCallLocked(ctx, tpm2sapi.CCFlushContext, tpm2sapi.MarshalFlushContext(h))
			b.metrics.RecordFlush(err == nil)
			if err != nil {
				log.Warn("flush_all_contexts: flush failed, continuing", logger.Handle(h), logger.Err(err))
			}
		}
	}
}

// TransObjectCount returns the number of transient objects currently
// loaded in the TPM.
func (b *Broker) TransObjectCount(ctx context.Context) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handles, err := b.capabilityHandlesLocked(ctx, tpm2header.TransientFirst, tpm2header.TransientLast-tpm2header.TransientFirst)
	if err != nil {
		return 0, err
	}
	count := uint32(len(handles))
	b.metrics.SetTransientObjects(count)
	return count, nil
}

func (b *Broker) capabilityHandlesLocked(ctx context.Context, start, count uint32) ([]uint32, error) {
	resp, err := b.structuredCallLocked(ctx, tpm2sapi.CCGetCapability, tpm2sapi.MarshalGetCapability(tpm2header.CapHandles, start, count))
	if err != nil {
		return nil, err
	}
	_, handles, err := tpm2sapi.UnmarshalGetCapabilityHandles(resp)
	return handles, err
}

// structuredCallLocked wraps body with a NO_SESSIONS header carrying code,
// transmits it, and receives the response. Callers must hold b.mu.
func (b *Broker) structuredCallLocked(ctx context.Context, code uint32, body []byte) ([]byte, error) {
	if b.loadState() != stateInitialized {
		return nil, tpm2rc.New(tpm2rc.BadValue, "broker not initialized")
	}

	cmd := make([]byte, tpm2header.Size+len(body))
	if err := tpm2header.Encode(tpm2header.Header{
		Tag:  tpm2header.TagNoSessions,
		Size: uint32(len(cmd)),
		Code: code,
	}, cmd); err != nil {
		return nil, err
	}
	copy(cmd[tpm2header.Size:], body)

	resp, err := b.roundTripLocked(ctx, cmd)
	if err != nil {
		return nil, err
	}

	hdr, err := tpm2header.Decode(resp)
	if err != nil {
		return nil, err
	}
	if hdr.Code != 0 {
		return nil, tpm2rc.New(tpm2rc.TpmRC(hdr.Code), "structured call failed")
	}
	return resp, nil
}
