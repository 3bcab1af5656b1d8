// Package firewall derives and applies the whitelist rule set for a host.
// Rule derivation is a pure function of the mode and Tailscale presence;
// application is a full replace of the managed chains.
package firewall

import (
	"strconv"
	"strings"
)

// Family selects the IP version a rule or policy applies to.
type Family string

const (
	V4 Family = "v4"
	V6 Family = "v6"
)

// ChainName identifies a netfilter chain.
type ChainName string

const (
	ChainInput      ChainName = "INPUT"
	ChainForward    ChainName = "FORWARD"
	ChainOutput     ChainName = "OUTPUT"
	ChainDockerUser ChainName = "DOCKER-USER"
)

// Action is a rule or policy verdict.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionReturn Action = "RETURN"
	ActionDrop   Action = "DROP"
)

// Match is the predicate of a rule. Zero fields are omitted from the
// generated argument vector.
type Match struct {
	InInterface string
	Protocol    string
	DestPort    int
	Source      string
	Destination string
	ConnState   string
}

// Rule is one whitelist entry. Planner output order is application order.
type Rule struct {
	Family Family
	Chain  ChainName
	Match  Match
	Action Action
}

// Args renders the rule as an iptables argument vector, without the chain
// operation itself.
func (r Rule) Args() []string {
	var args []string
	if r.Match.InInterface != "" {
		args = append(args, "-i", r.Match.InInterface)
	}
	if r.Match.Protocol != "" {
		args = append(args, "-p", r.Match.Protocol)
	}
	if r.Match.DestPort > 0 {
		args = append(args, "--dport", strconv.Itoa(r.Match.DestPort))
	}
	if r.Match.Source != "" {
		args = append(args, "-s", r.Match.Source)
	}
	if r.Match.Destination != "" {
		args = append(args, "-d", r.Match.Destination)
	}
	if r.Match.ConnState != "" {
		args = append(args, "-m", "conntrack", "--ctstate", r.Match.ConnState)
	}
	return append(args, "-j", string(r.Action))
}

// String renders the rule for logs and diagnostics.
func (r Rule) String() string {
	return string(r.Family) + " " + string(r.Chain) + " " + strings.Join(r.Args(), " ")
}

// Policy is a chain default verdict.
type Policy struct {
	Family Family
	Chain  ChainName
	Action Action
}

// RuleSet is the complete ordered derivation for one run.
type RuleSet struct {
	Policies []Policy
	Rules    []Rule
}

// ChainRules returns the rules of one chain/family in planned order.
func (rs RuleSet) ChainRules(family Family, chain ChainName) []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.Family == family && r.Chain == chain {
			out = append(out, r)
		}
	}
	return out
}
