// Package memoserv is the MemoServ personality: the IRC-facing
// command surface over internal/memo (spec's store-and-forward memo
// module, supplemented from original_source/src/s_memoserv.c):
// SEND, LIST, READ, and DELETE.
package memoserv

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/memo"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// Personality wires a *service.Service to a *memo.Engine.
type Personality struct {
	svc *service.Service
	eng *memo.Engine
	now func() time.Time
}

// New builds the MemoServ command table.
func New(svc *service.Service, eng *memo.Engine, now func() time.Time) *Personality {
	p := &Personality{svc: svc, eng: eng, now: now}

	svc.Register(service.Command{Name: "SEND", Requires: service.ReqLogin, MinArgs: 2, Handler: p.cmdSend})
	svc.Register(service.Command{Name: "LIST", Requires: service.ReqLogin, MinArgs: 0, Handler: p.cmdList})
	svc.Register(service.Command{Name: "READ", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdRead})
	svc.Register(service.Command{Name: "DELETE", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdDelete})
	return p
}

func (p *Personality) cmdSend(ctx service.Context, reply service.Reply) (int, error) {
	target := ctx.Args[0]
	text := joinRest(ctx.Args[1:])
	if err := p.eng.Send(target, ctx.AccountName, text, p.now()); err != nil {
		return 0, fmt.Errorf("SEND failed: %w", err)
	}
	reply("memo sent to " + target)
	return 0, nil
}

func (p *Personality) cmdList(ctx service.Context, reply service.Reply) (int, error) {
	memos, err := p.eng.List(ctx.AccountName)
	if err != nil {
		return 0, fmt.Errorf("LIST failed: %w", err)
	}
	if len(memos) == 0 {
		reply("you have no memos")
		return 0, nil
	}
	for _, m := range memos {
		status := "unread"
		if m.Flags&memo.FlagRead != 0 {
			status = "read"
		}
		reply(fmt.Sprintf("#%d from %s (%s): %s", m.ID, m.Source, status, m.Text))
	}
	return 0, nil
}

func (p *Personality) cmdRead(ctx service.Context, reply service.Reply) (int, error) {
	id, err := strconv.ParseUint(ctx.Args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("READ failed: invalid memo id")
	}
	m, err := p.eng.Read(ctx.AccountName, id)
	if err != nil {
		return 0, fmt.Errorf("READ failed: %w", err)
	}
	reply(fmt.Sprintf("from %s: %s", m.Source, m.Text))
	return 0, nil
}

func (p *Personality) cmdDelete(ctx service.Context, reply service.Reply) (int, error) {
	id, err := strconv.ParseUint(ctx.Args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("DELETE failed: invalid memo id")
	}
	if err := p.eng.Delete(ctx.AccountName, id); err != nil {
		return 0, fmt.Errorf("DELETE failed: %w", err)
	}
	reply("memo deleted")
	return 0, nil
}

func joinRest(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
