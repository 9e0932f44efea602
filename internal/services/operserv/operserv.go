// Package operserv is the OperServ personality: oper-only
// administrative commands grounded on original_source/src/s_operserv.c.
// This build wires the maintenance surface that doesn't require a live
// link connection (ignore-host management and a logged-in-opers
// listing); OSJOIN/OSPART/TAKEOVER/OMODE are channel-mode overrides
// that belong to internal/link once that engine grows a public
// mode-injection API, and are intentionally not stubbed here.
package operserv

import (
	"fmt"
	"strings"

	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// OperLister returns the names of every currently logged-in oper
// (spec §4.9's oper session set, surfaced read-only here for LISTOPERS).
type OperLister func() []string

// Personality wires a *service.Service to the ignore-host controls
// every service exposes plus a cross-cutting oper list.
type Personality struct {
	svc     *service.Service
	targets []*service.Service
	opers   OperLister
}

// New builds the OperServ command table. targets is every service
// whose ignore list ADDIGNORE/DELIGNORE/LISTIGNORES should affect
// (spec §4.6 "ignore lists are per-service but OperServ administers
// them centrally").
func New(svc *service.Service, targets []*service.Service, opers OperLister) *Personality {
	p := &Personality{svc: svc, targets: targets, opers: opers}

	svc.Register(service.Command{Name: "ADDIGNORE", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdAddIgnore})
	svc.Register(service.Command{Name: "DELIGNORE", Requires: service.ReqOper, MinArgs: 1, Handler: p.cmdDelIgnore})
	svc.Register(service.Command{Name: "LISTIGNORES", Requires: service.ReqOper, MinArgs: 0, Handler: p.cmdListIgnores})
	svc.Register(service.Command{Name: "LISTOPERS", Requires: service.ReqOper, MinArgs: 0, Handler: p.cmdListOpers})
	return p
}

func (p *Personality) cmdAddIgnore(ctx service.Context, reply service.Reply) (int, error) {
	host := ctx.Args[0]
	for _, t := range p.targets {
		t.IgnoreHost(host)
	}
	reply("now ignoring " + host)
	return 0, nil
}

func (p *Personality) cmdDelIgnore(ctx service.Context, reply service.Reply) (int, error) {
	host := ctx.Args[0]
	for _, t := range p.targets {
		t.UnignoreHost(host)
	}
	reply("no longer ignoring " + host)
	return 0, nil
}

func (p *Personality) cmdListIgnores(ctx service.Context, reply service.Reply) (int, error) {
	seen := make(map[string]bool)
	var all []string
	for _, t := range p.targets {
		for _, h := range t.IgnoredHosts() {
			if !seen[h] {
				seen[h] = true
				all = append(all, h)
			}
		}
	}
	if len(all) == 0 {
		reply("no hosts are currently ignored")
		return 0, nil
	}
	reply(fmt.Sprintf("ignored hosts: %s", strings.Join(all, ", ")))
	return 0, nil
}

func (p *Personality) cmdListOpers(ctx service.Context, reply service.Reply) (int, error) {
	opers := p.opers()
	if len(opers) == 0 {
		reply("no opers are currently logged in")
		return 0, nil
	}
	reply(fmt.Sprintf("opers online: %s", strings.Join(opers, ", ")))
	return 0, nil
}
