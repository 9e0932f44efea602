// Package globalserv is the GlobalServ personality grounded on
// original_source/src/s_global.c: a single oper-privileged command
// broadcasting a network-wide notice, audited through internal/watch.
package globalserv

import (
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/watch"
)

// WatchFlagGlobal is the watch-stream bit this personality fires on
// every broadcast (spec §4.10's watch category for GLOBAL usage).
const WatchFlagGlobal watch.Flag = 1 << 8

// Sender delivers the formatted global notice line to every connected
// user; wired to the link engine's network-wide NOTICE broadcast by
// the daemon, kept as a function here so globalserv never imports link.
type Sender func(text string)

// Personality wires a *service.Service to a Sender and the watch bus.
type Personality struct {
	svc   *service.Service
	send  Sender
	watch *watch.Bus
}

// New builds the GlobalServ command table.
func New(svc *service.Service, send Sender, watchBus *watch.Bus) *Personality {
	p := &Personality{svc: svc, send: send, watch: watchBus}
	svc.Register(service.Command{Name: "GLOBAL", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdGlobal})
	return p
}

func (p *Personality) cmdGlobal(ctx service.Context, reply service.Reply) (int, error) {
	text := ctx.Args[0]
	for _, a := range ctx.Args[1:] {
		text += " " + a
	}
	p.send(text)
	p.watch.Send(WatchFlagGlobal, ctx.AccountName, ctx.UID, true, "GLOBAL: %s", text)
	reply("message sent")
	return 0, nil
}
