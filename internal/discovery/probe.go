package discovery

import (
	"time"

	"github.com/1ureka/seacomm/internal/codec"
	"github.com/1ureka/seacomm/internal/port"
	"github.com/1ureka/seacomm/internal/protocol"
	"github.com/1ureka/seacomm/internal/transport"
	"github.com/1ureka/seacomm/internal/util"
)

// probe runs one strategy on one port. All methods run on the port's
// session goroutine.
type probe struct {
	svc      *Service
	strategy Strategy
	tasks    []Task

	task     int // index into tasks
	attempt  int // solicitations sent for the current task
	deadline time.Time
	found    int
}

var _ port.Probe = (*probe)(nil)

func probeName(f Family) string { return "discovery/" + f.String() }

func (pr *probe) Name() string { return probeName(pr.strategy.Family()) }

func (pr *probe) Codec() codec.Kind {
	if pr.strategy.Family() == FamilyNmea {
		return codec.KindNmea
	}
	return codec.KindStuffing
}

func (pr *probe) Start(now time.Time, link port.Link) {
	p := link.Port()
	pr.svc.begin(p, pr.strategy.Family())

	ev := StartedEvent{Port: p, Family: pr.strategy.Family(), Tasks: len(pr.tasks)}
	link.Emit(func() { pr.svc.Started.Emit(ev) })

	pr.startTask(now, link)
}

func (pr *probe) Tick(now time.Time, link port.Link) bool {
	if now.Before(pr.deadline) {
		return false
	}

	t := pr.tasks[pr.task]
	if pr.attempt < t.Attempts {
		pr.solicit(now, link)
		return false
	}

	pr.task++
	if pr.task == len(pr.tasks) {
		return true
	}
	pr.startTask(now, link)
	return false
}

func (pr *probe) startTask(now time.Time, link port.Link) {
	pr.attempt = 0
	ev := ProbingEvent{
		Port:   link.Port(),
		Family: pr.strategy.Family(),
		Task:   pr.tasks[pr.task],
		Index:  pr.task,
	}
	link.Emit(func() { pr.svc.Probing.Emit(ev) })
	pr.solicit(now, link)
}

// solicit sends one solicitation for the current task and restarts the
// reply timer.
func (pr *probe) solicit(now time.Time, link port.Link) {
	t := pr.tasks[pr.task]
	pr.attempt++
	pr.deadline = now.Add(t.Timeout)

	var err error
	switch s := pr.strategy.(type) {
	case Binary:
		err = link.SendPacket(protocol.BroadcastID, protocol.TypeDiscover, s.Filter.Payload(), t.Peer)
	case Nmea:
		var body []byte
		if s.Query != "" {
			body = []byte(s.Query)
		}
		err = link.SendSentence(body, t.Peer)
	}
	if err != nil {
		util.LogDebug("[%s] %s discovery on %s: %v", link.Port().Name(), pr.strategy.Family(), t.Peer, err)
	}
}

func (pr *probe) ObservePacket(pkt *protocol.Packet, from transport.Peer, link port.Link) {
	s, ok := pr.strategy.(Binary)
	if !ok || pkt.Type != protocol.TypeDiscoverReply {
		return
	}

	id, err := ParseReply(pkt.DeviceID, pkt.Payload)
	if err != nil {
		util.LogDebug("[%s] %v", link.Port().Name(), err)
		return
	}
	if !s.Filter.Matches(id) {
		return
	}
	pr.report(link, Device{Family: FamilyBinary, Meta: link.Meta(from, link.PacketCodec()), Identity: id})
}

func (pr *probe) ObserveSentence(body []byte, from transport.Peer, link port.Link) {
	s, ok := pr.strategy.(Nmea)
	if !ok || !s.recognizes(codec.SentenceType(body)) {
		return
	}
	id := Identity{Talker: codec.Talker(body)}
	pr.report(link, Device{Family: FamilyNmea, Meta: link.Meta(from, codec.KindNmea), Identity: id})
}

func (pr *probe) report(link port.Link, dev Device) {
	if !pr.svc.record(dev) {
		return
	}
	pr.found++
	util.LogInfo("[%s] found %s", link.Port().Name(), dev)
	link.Emit(func() { pr.svc.DeviceFound.Emit(dev) })
}

func (pr *probe) Stop(cancelled bool, link port.Link) {
	p := link.Port()
	pr.svc.end(p, pr.strategy.Family())

	ev := FinishedEvent{Port: p, Family: pr.strategy.Family(), Found: pr.found, Cancelled: cancelled}
	link.Emit(func() { pr.svc.Finished.Emit(ev) })
}
