// Package jupeserv is the JupeServ personality: the IRC-facing
// command surface over internal/jupe (spec's jupe-voting module,
// grounded on original_source/src/s_jupeserv.c): JUPE/UNJUPE
// (oper-only, commits immediately) and CALLJUPE (any logged-in user,
// quorum voting).
package jupeserv

import (
	"fmt"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/jupe"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// Personality wires a *service.Service to a *jupe.Engine.
type Personality struct {
	svc *service.Service
	eng *jupe.Engine
	now func() time.Time
}

// New builds the JupeServ command table.
func New(svc *service.Service, eng *jupe.Engine, now func() time.Time) *Personality {
	p := &Personality{svc: svc, eng: eng, now: now}

	svc.Register(service.Command{Name: "JUPE", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdJupe})
	svc.Register(service.Command{Name: "UNJUPE", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdUnjupe})
	svc.Register(service.Command{Name: "CALLJUPE", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdCallJupe})
	return p
}

func (p *Personality) cmdJupe(ctx service.Context, reply service.Reply) (int, error) {
	reason := joinRest(ctx.Args[1:])
	if err := p.eng.Jupe(ctx.Args[0], reason); err != nil {
		return 0, fmt.Errorf("JUPE failed: %w", err)
	}
	reply("JUPE set on " + ctx.Args[0])
	return 0, nil
}

func (p *Personality) cmdUnjupe(ctx service.Context, reply service.Reply) (int, error) {
	if err := p.eng.Unjupe(ctx.Args[0]); err != nil {
		return 0, fmt.Errorf("UNJUPE failed: %w", err)
	}
	reply(ctx.Args[0] + " is no longer juped")
	return 0, nil
}

func (p *Personality) cmdCallJupe(ctx service.Context, reply service.Reply) (int, error) {
	reason := joinRest(ctx.Args[1:])
	committed, err := p.eng.Vote(ctx.Args[0], ctx.AccountName, reason, p.now())
	if err != nil {
		return 0, fmt.Errorf("CALLJUPE failed: %w", err)
	}
	if committed {
		reply(ctx.Args[0] + " has reached quorum and is now juped")
		return 0, nil
	}
	reply(fmt.Sprintf("vote recorded; %d vote(s) so far", p.eng.VoteCount(ctx.Args[0], p.now())))
	return 0, nil
}

func joinRest(args []string) string {
	if len(args) == 0 {
		return ""
	}
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
