package firewall

import (
	"github.com/tetrixdev/vps-setup/internal/config"
	"github.com/tetrixdev/vps-setup/internal/state"
)

// Planner derives the rule set for a mode. For a fixed configuration,
// Plan is a pure, deterministic, total function: identical inputs yield
// identical rule order.
type Planner struct {
	cfg config.FirewallConfig
}

// NewPlanner creates a planner from the firewall configuration.
func NewPlanner(cfg config.FirewallConfig) *Planner {
	return &Planner{cfg: cfg}
}

const establishedRelated = "ESTABLISHED,RELATED"

// Plan maps (mode, tailscale-presence) to the ordered rule set. Every
// managed chain ends in a deny: INPUT and FORWARD via DROP policy,
// DOCKER-USER via an explicit terminal DROP. Accept rules always precede
// the terminal deny because planner order is application order.
func (p *Planner) Plan(mode state.Mode, tailscaleAllowed bool) RuleSet {
	rs := RuleSet{
		Policies: []Policy{
			{V4, ChainInput, ActionDrop},
			{V4, ChainForward, ActionDrop},
			{V4, ChainOutput, ActionAccept},
			{V6, ChainInput, ActionDrop},
			{V6, ChainForward, ActionDrop},
			{V6, ChainOutput, ActionAccept},
		},
	}

	rs.Rules = append(rs.Rules, p.inputRules(V4, "icmp", mode, tailscaleAllowed)...)
	rs.Rules = append(rs.Rules, p.inputRules(V6, "icmpv6", mode, tailscaleAllowed)...)
	rs.Rules = append(rs.Rules, p.forwardRules()...)
	rs.Rules = append(rs.Rules, p.dockerUserRules(mode)...)

	return rs
}

func (p *Planner) inputRules(family Family, icmpProto string, mode state.Mode, tailscaleAllowed bool) []Rule {
	rules := []Rule{
		{family, ChainInput, Match{InInterface: "lo"}, ActionAccept},
		{family, ChainInput, Match{ConnState: establishedRelated}, ActionAccept},
		{family, ChainInput, Match{Protocol: icmpProto}, ActionAccept},
	}

	if tailscaleAllowed {
		// Harmless no-op if the interface does not exist yet.
		rules = append(rules,
			Rule{family, ChainInput, Match{InInterface: p.cfg.TailscaleInterface}, ActionAccept},
			Rule{family, ChainInput, Match{Protocol: "udp", DestPort: p.cfg.TailscalePort}, ActionAccept},
		)
	}

	if mode == state.ModePublic {
		for _, port := range p.cfg.PublicTCPPorts {
			rules = append(rules, Rule{family, ChainInput, Match{Protocol: "tcp", DestPort: port}, ActionAccept})
		}
	}

	return rules
}

func (p *Planner) forwardRules() []Rule {
	return []Rule{
		{V4, ChainForward, Match{Source: p.cfg.DockerSubnet}, ActionAccept},
		{V4, ChainForward, Match{Destination: p.cfg.DockerSubnet}, ActionAccept},
	}
}

// dockerUserRules restricts published container ports independent of the
// engine's own rules: a stray publish directive cannot expose a port the
// operator did not intend.
func (p *Planner) dockerUserRules(mode state.Mode) []Rule {
	rules := []Rule{
		{V4, ChainDockerUser, Match{ConnState: establishedRelated}, ActionReturn},
		{V4, ChainDockerUser, Match{InInterface: p.cfg.DockerInterface}, ActionReturn},
		{V4, ChainDockerUser, Match{Source: p.cfg.DockerSubnet}, ActionReturn},
		{V4, ChainDockerUser, Match{InInterface: p.cfg.BridgePattern}, ActionReturn},
		// Tailscale traffic reaches containers in both modes.
		{V4, ChainDockerUser, Match{InInterface: p.cfg.TailscaleInterface}, ActionReturn},
	}

	if mode == state.ModePublic {
		for _, port := range p.cfg.PublicContainerPorts {
			rules = append(rules, Rule{V4, ChainDockerUser, Match{Protocol: "tcp", DestPort: port}, ActionReturn})
		}
	}

	// Terminal deny: whitelist semantics, never blacklist.
	return append(rules, Rule{V4, ChainDockerUser, Match{}, ActionDrop})
}
