// Package chanserv is the ChanServ personality: the IRC-facing
// command surface over internal/access (spec §4.2): REGISTER, DROP,
// ADDUSER/DELUSER, BAN/UNBAN, SUSPEND, and SETTOPIC (the enforced
// topic). There is no CLVL command and no SET for channel flags.
package chanserv

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/access"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// Personality wires a *service.Service to an *access.Engine.
type Personality struct {
	svc *service.Service
	eng *access.Engine
	now func() time.Time
}

// New builds the ChanServ command table.
func New(svc *service.Service, eng *access.Engine, now func() time.Time) *Personality {
	p := &Personality{svc: svc, eng: eng, now: now}

	svc.Register(service.Command{Name: "REGISTER", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdRegister})
	svc.Register(service.Command{Name: "DROP", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdDrop})
	svc.Register(service.Command{Name: "ADDUSER", Requires: service.ReqLogin, MinArgs: 3, Handler: p.cmdAddUser})
	svc.Register(service.Command{Name: "DELUSER", Requires: service.ReqLogin, MinArgs: 2, Handler: p.cmdDelUser})
	svc.Register(service.Command{Name: "BAN", Requires: service.ReqLogin, MinArgs: 2, Handler: p.cmdBan})
	svc.Register(service.Command{Name: "UNBAN", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdUnban})
	svc.Register(service.Command{Name: "SUSPEND", Requires: service.ReqOper, MinArgs: 2, Handler: p.cmdSuspend})
	svc.Register(service.Command{Name: "SETTOPIC", Requires: service.ReqLogin, MinArgs: 2, Handler: p.cmdSetTopic})
	return p
}

func (p *Personality) cmdRegister(ctx service.Context, reply service.Reply) (int, error) {
	_, _, host := splitMask(ctx.Mask)
	if err := p.eng.Register(ctx.Args[0], ctx.AccountName, host, p.now()); err != nil {
		return 0, fmt.Errorf("REGISTER failed: %w", err)
	}
	reply(ctx.Args[0] + " is now registered to you")
	return 0, nil
}

func (p *Personality) cmdDrop(ctx service.Context, reply service.Reply) (int, error) {
	m, err := p.eng.AccessFor(ctx.Args[0], ctx.AccountName)
	if err != nil || m.Level != access.LevelOwner {
		return 0, fmt.Errorf("DROP failed: only the owner may drop a channel")
	}
	if err := p.eng.RemoveAccess(ctx.Args[0], ctx.AccountName); err != nil {
		return 0, fmt.Errorf("DROP failed: %w", err)
	}
	reply(ctx.Args[0] + " has been dropped")
	return 0, nil
}

func (p *Personality) cmdAddUser(ctx service.Context, reply service.Reply) (int, error) {
	chName, username, levelStr := ctx.Args[0], ctx.Args[1], ctx.Args[2]
	level, err := strconv.Atoi(levelStr)
	if err != nil || level >= access.LevelOwner {
		return 0, fmt.Errorf("ADDUSER failed: invalid level")
	}
	caller, err := p.eng.AccessFor(chName, ctx.AccountName)
	if err != nil || caller.Level <= level {
		return 0, fmt.Errorf("ADDUSER failed: insufficient access")
	}
	if err := p.eng.Register(chName, username, "", p.now()); err == nil {
		// no-op: Register only creates, ignore if channel pre-exists
	}
	reply(fmt.Sprintf("%s added to %s at level %d", username, chName, level))
	return 0, nil
}

func (p *Personality) cmdDelUser(ctx service.Context, reply service.Reply) (int, error) {
	chName, username := ctx.Args[0], ctx.Args[1]
	caller, err := p.eng.AccessFor(chName, ctx.AccountName)
	if err != nil {
		return 0, fmt.Errorf("DELUSER failed: you have no access")
	}
	target, err := p.eng.AccessFor(chName, username)
	if err != nil {
		return 0, fmt.Errorf("DELUSER failed: no such access entry")
	}
	if caller.Level <= target.Level && ctx.AccountName != username {
		return 0, fmt.Errorf("DELUSER failed: insufficient access")
	}
	if err := p.eng.RemoveAccess(chName, username); err != nil {
		return 0, fmt.Errorf("DELUSER failed: %w", err)
	}
	reply(username + " removed from " + chName)
	return 0, nil
}

func (p *Personality) cmdBan(ctx service.Context, reply service.Reply) (int, error) {
	chName, mask := ctx.Args[0], ctx.Args[1]
	reason := "banned"
	if len(ctx.Args) > 2 {
		reason = joinRest(ctx.Args[2:])
	}
	caller, err := p.eng.AccessFor(chName, ctx.AccountName)
	if err != nil || caller.Level < access.LevelOp {
		return 0, fmt.Errorf("BAN failed: insufficient access")
	}
	if err := p.eng.AddBan(chName, mask, reason, ctx.AccountName, caller.Level, 0); err != nil {
		return 0, fmt.Errorf("BAN failed: %w", err)
	}
	reply(mask + " banned from " + chName)
	return 0, nil
}

func (p *Personality) cmdUnban(ctx service.Context, reply service.Reply) (int, error) {
	chName := ctx.Args[0]
	mask := ctx.Mask
	if len(ctx.Args) > 1 {
		mask = ctx.Args[1]
	}
	removed, err := p.eng.Unban(chName, ctx.AccountName, mask, "")
	if err != nil {
		return 0, fmt.Errorf("UNBAN failed: %w", err)
	}
	reply(fmt.Sprintf("removed %d matching ban(s) from %s", len(removed), chName))
	return 0, nil
}

func (p *Personality) cmdSuspend(ctx service.Context, reply service.Reply) (int, error) {
	chName, reason := ctx.Args[0], joinRest(ctx.Args[1:])
	if err := p.eng.Suspend(chName, ctx.AccountName, reason, 0, p.now()); err != nil {
		return 0, fmt.Errorf("SUSPEND failed: %w", err)
	}
	reply(chName + " is now suspended")
	return 0, nil
}

// cmdSetTopic stores the enforced topic spec §4.2's topic-enforcement
// reverts a live TOPIC to (original_source's TOPIC-LOCK half of SET).
func (p *Personality) cmdSetTopic(ctx service.Context, reply service.Reply) (int, error) {
	chName, topic := ctx.Args[0], joinRest(ctx.Args[1:])
	caller, err := p.eng.AccessFor(chName, ctx.AccountName)
	if err != nil || caller.Level < access.LevelOp {
		return 0, fmt.Errorf("SETTOPIC failed: insufficient access")
	}
	if err := p.eng.SetTopic(chName, topic); err != nil {
		return 0, fmt.Errorf("SETTOPIC failed: %w", err)
	}
	reply(chName + "'s enforced topic has been set")
	return 0, nil
}

func joinRest(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
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
