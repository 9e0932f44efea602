// Package nickserv is the NickServ personality: the IRC-facing
// command surface over internal/nick (spec's nick-registration
// module, supplemented from original_source/src/s_nickserv.c):
// REGISTER, DROP, and INFO.
package nickserv

import (
	"fmt"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/nick"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// Personality wires a *service.Service to a *nick.Engine.
type Personality struct {
	svc *service.Service
	eng *nick.Engine
	now func() time.Time
}

// New builds the NickServ command table.
func New(svc *service.Service, eng *nick.Engine, now func() time.Time) *Personality {
	p := &Personality{svc: svc, eng: eng, now: now}

	svc.Register(service.Command{Name: "REGISTER", Requires: service.ReqLogin, MinArgs: 0, Handler: p.cmdRegister})
	svc.Register(service.Command{Name: "DROP", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdDrop})
	svc.Register(service.Command{Name: "INFO", MinArgs: 1, Handler: p.cmdInfo})
	return p
}

func (p *Personality) currentNick(ctx service.Context) string {
	nick, _, _ := splitMask(ctx.Mask)
	return nick
}

func (p *Personality) cmdRegister(ctx service.Context, reply service.Reply) (int, error) {
	target := p.currentNick(ctx)
	if len(ctx.Args) > 0 {
		target = ctx.Args[0]
	}
	if err := p.eng.Register(target, ctx.AccountName, p.now()); err != nil {
		return 0, err
	}
	reply(target + " is now registered to " + ctx.AccountName)
	return 0, nil
}

func (p *Personality) cmdDrop(ctx service.Context, reply service.Reply) (int, error) {
	if err := p.eng.Drop(ctx.Args[0], ctx.AccountName); err != nil {
		return 0, err
	}
	reply(ctx.Args[0] + " is no longer registered")
	return 0, nil
}

func (p *Personality) cmdInfo(ctx service.Context, reply service.Reply) (int, error) {
	n, err := p.eng.Info(ctx.Args[0])
	if err != nil {
		return 0, fmt.Errorf("nick: %s is not registered", ctx.Args[0])
	}
	reply(fmt.Sprintf("%s is registered to %s since %s", n.Nickname, n.Username, time.Unix(n.RegTime, 0).UTC().Format(time.RFC3339)))
	return 0, nil
}

func splitMask(mask string) (nick, user, host string) {
	bang := -1
	at := -1
	for i := 0; i < len(mask); i++ {
		if mask[i] == '!' && bang < 0 {
			bang = i
		}
		if mask[i] == '@' && at < 0 {
			at = i
		}
	}
	if bang < 0 || at < 0 || at < bang {
		return mask, "", ""
	}
	return mask[:bang], mask[bang+1 : at], mask[at+1:]
}
