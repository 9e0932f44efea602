// Package banserv is the BanServ/OperBot-adjacent command surface over
// internal/kline (spec §4.5): KLINE/UNKLINE, XLINE/UNXLINE,
// RESV/UNRESV, and REGEXKLINE, each oper-gated.
package banserv

import (
	"fmt"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/durfmt"
	"github.com/cycoslave/ratbox-services-sub000/internal/kline"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// Personality wires a *service.Service to a *kline.Engine.
type Personality struct {
	svc *service.Service
	eng *kline.Engine
	now func() time.Time
}

// New builds the BanServ command table. Every command requires oper
// privilege (spec §4.5's ban operations are oper-only).
func New(svc *service.Service, eng *kline.Engine, now func() time.Time) *Personality {
	p := &Personality{svc: svc, eng: eng, now: now}

	svc.Register(service.Command{Name: "KLINE", Requires: service.ReqOper, MinArgs: 2, Handler: p.cmdAdd(kline.TypeKline)})
	svc.Register(service.Command{Name: "UNKLINE", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdRemove(kline.TypeKline)})
	svc.Register(service.Command{Name: "XLINE", Requires: service.ReqOper, MinArgs: 2, Handler: p.cmdAdd(kline.TypeXline)})
	svc.Register(service.Command{Name: "UNXLINE", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdRemove(kline.TypeXline)})
	svc.Register(service.Command{Name: "RESV", Requires: service.ReqOper, MinArgs: 2, Handler: p.cmdAdd(kline.TypeResv)})
	svc.Register(service.Command{Name: "UNRESV", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdRemove(kline.TypeResv)})
	svc.Register(service.Command{Name: "REGEXKLINE", Requires: service.ReqOper, MinArgs: 2, Handler: p.cmdRegexKline})
	return p
}

func (p *Personality) cmdAdd(banType string) service.Handler {
	return func(ctx service.Context, reply service.Reply) (int, error) {
		mask := ctx.Args[0]
		duration := ""
		reasonArgs := ctx.Args[1:]
		if len(reasonArgs) > 1 {
			if _, err := durfmt.Parse(reasonArgs[0]); err == nil {
				duration = reasonArgs[0]
				reasonArgs = reasonArgs[1:]
			}
		}
		reason := joinRest(reasonArgs)
		hasNoMax := ctx.IsOper
		if err := p.eng.AddBan(banType, mask, reason, "", ctx.AccountName, duration, hasNoMax, p.now()); err != nil {
			return 0, fmt.Errorf("%s failed: %w", banType, err)
		}
		reply(fmt.Sprintf("added %s ban on %s", banType, mask))
		return 0, nil
	}
}

func (p *Personality) cmdRemove(banType string) service.Handler {
	return func(ctx service.Context, reply service.Reply) (int, error) {
		if err := p.eng.RemoveBan(banType, ctx.Args[0]); err != nil {
			return 0, fmt.Errorf("remove %s failed: %w", banType, err)
		}
		reply("removed " + banType + " ban on " + ctx.Args[0])
		return 0, nil
	}
}

func (p *Personality) cmdRegexKline(ctx service.Context, reply service.Reply) (int, error) {
	pattern := ctx.Args[0]
	reason := joinRest(ctx.Args[1:])
	if err := p.eng.AddRegexBan(pattern, reason, ctx.AccountName, p.now()); err != nil {
		return 0, fmt.Errorf("REGEXKLINE failed: %w", err)
	}
	reply("added regex kline " + pattern)
	return 0, nil
}

func joinRest(args []string) string {
	if len(args) == 0 {
		return "no reason given"
	}
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
