package session

import (
	"context"

	"github.com/arcspire/moqpub/moq"
	"github.com/arcspire/moqpub/wire"
)

// sendProbe implements the probe side-channel (spec.md §4.F): a
// Subscribe whose name starts with ".probe" never looks anything up in
// the cache. It opens its own unidirectional stream, writes one Object
// header describing SIZE bytes at the given PRIORITY, then writes SIZE
// zero bytes. Every failure is logged and swallowed — a failed probe
// must never affect the rest of the session.
func (p *Publisher) sendProbe(ctx context.Context, m moq.Subscribe) {
	size, priority := parseProbeArgs(m.Name)

	stream, err := p.sess.OpenUniStream(ctx)
	if err != nil {
		p.log.Warn("probe: open uni stream", "id", m.ID, "err", err)
		return
	}
	defer stream.Close()

	ntp, err := ntpTimestamp()
	if err != nil {
		p.log.Warn("probe: ntp timestamp", "id", m.ID, "err", err)
		return
	}

	obj := moq.Object{
		Track:        m.ID,
		Group:        0,
		Priority:     wire.VarInt(priority),
		Sequence:     0,
		NtpTimestamp: ntp,
		Size:         wire.VarInt(size),
	}
	if _, err := stream.Write(obj.Encode(nil, p.ext)); err != nil {
		p.log.Warn("probe: write object header", "id", m.ID, "err", err)
		return
	}

	payload := make([]byte, size)
	if _, err := stream.Write(payload); err != nil {
		p.log.Warn("probe: write payload", "id", m.ID, "err", err)
	}
}
