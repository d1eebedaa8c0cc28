// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

// Common approval thresholds for Tally.
const (
	SimpleMajority = 0.5
	SuperMajority  = 0.66
	Unanimous      = 1.0
)

// ConsensusResult is the outcome of tallying a round of votes.
type ConsensusResult struct {
	Decision     string         `json:"decision"`
	ApprovalRate float64        `json:"approval_rate"`
	Approved     bool           `json:"approved"`
	Threshold    float64        `json:"threshold"`
	TotalVotes   int            `json:"total_votes"`
	Counts       map[string]int `json:"counts"`
}

// Tally aggregates one decision per voter. The decision is the option with
// the most votes, ties going to the lexicographically smallest option. The
// approval rate is the decision's share of all votes and the round is
// approved when that rate reaches threshold.
func Tally(votes map[string]string, threshold float64) ConsensusResult {
	res := ConsensusResult{
		Threshold:  threshold,
		TotalVotes: len(votes),
		Counts:     make(map[string]int),
	}
	if len(votes) == 0 {
		return res
	}

	for _, decision := range votes {
		res.Counts[decision]++
	}

	best := -1
	for decision, n := range res.Counts {
		if n > best || (n == best && decision < res.Decision) {
			best = n
			res.Decision = decision
		}
	}

	res.ApprovalRate = float64(best) / float64(len(votes))
	res.Approved = res.ApprovalRate >= threshold
	return res
}
