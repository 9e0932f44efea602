// Package alis is the ALIS personality grounded on
// original_source/src/s_alis.c: a paged, flag-filtered channel search
// over the live network (-min, -max, -topic), independent of both
// internal/chanstate and internal/link so it can be wired to whatever
// read-only channel snapshot the daemon exposes.
package alis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cycoslave/ratbox-services-sub000/internal/cidr"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// ChannelSummary is the read-only projection ALIS searches over.
type ChannelSummary struct {
	Name    string
	Topic   string
	Members int
	Secret  bool
}

// Lister snapshots every currently joinable (non-secret) channel.
type Lister func() []ChannelSummary

const maxResults = 50

// Personality wires a *service.Service to a Lister.
type Personality struct {
	svc  *service.Service
	list Lister
}

// New builds the ALIS command table.
func New(svc *service.Service, list Lister) *Personality {
	p := &Personality{svc: svc, list: list}
	svc.Register(service.Command{Name: "LIST", MinArgs: 1, Handler: p.cmdList})
	return p
}

func (p *Personality) cmdList(ctx service.Context, reply service.Reply) (int, error) {
	mask := ctx.Args[0]
	min, max := 0, -1
	var topic string

	args := ctx.Args[1:]
	for i := 0; i < len(args); i++ {
		switch strings.ToLower(args[i]) {
		case "-min":
			if i+1 < len(args) {
				min, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "-max":
			if i+1 < len(args) {
				max, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "-topic":
			if i+1 < len(args) {
				topic = strings.ToLower(args[i+1])
				i++
			}
		}
	}

	var matches []ChannelSummary
	for _, ch := range p.list() {
		if ch.Secret {
			continue
		}
		if !cidr.WildcardMatch(mask, ch.Name) {
			continue
		}
		if ch.Members < min {
			continue
		}
		if max >= 0 && ch.Members > max {
			continue
		}
		if topic != "" && !strings.Contains(strings.ToLower(ch.Topic), topic) {
			continue
		}
		matches = append(matches, ch)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	if len(matches) == 0 {
		reply("no channels matched")
		return 0, nil
	}
	shown := matches
	truncated := false
	if len(shown) > maxResults {
		shown = shown[:maxResults]
		truncated = true
	}
	for _, ch := range shown {
		reply(fmt.Sprintf("%s (%d): %s", ch.Name, ch.Members, ch.Topic))
	}
	if truncated {
		reply(fmt.Sprintf("...and %d more, refine your search", len(matches)-maxResults))
	}
	return 0, nil
}
