package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const escrowABIJSON = `[
	{"type":"function","name":"proposalCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getProposal","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[
		{"name":"status","type":"uint8"},
		{"name":"startTime","type":"uint64"},
		{"name":"endTime","type":"uint64"},
		{"name":"topicCount","type":"uint256"},
		{"name":"winnerTopicId","type":"uint256"},
		{"name":"submitDeadline","type":"uint64"},
		{"name":"challengeWindowEnd","type":"uint64"},
		{"name":"remainingPool","type":"uint256"},
		{"name":"challenger","type":"address"}
	]},
	{"type":"function","name":"topicOwner","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"topicId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"topicId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"finalizeVoting","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"confirmWinner","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"submitDelivery","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"contentHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"challengeDelivery","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"reasonHash","type":"bytes32"},{"name":"evidenceHash","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"finalizeDelivery","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"expireIfNoSubmission","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"resolveDispute","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"approve","type":"bool"}],"outputs":[]},
	{"type":"event","name":"BountyCreated","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"startTime","type":"uint64","indexed":false},
		{"name":"endTime","type":"uint64","indexed":false},
		{"name":"topicCount","type":"uint256","indexed":false},
		{"name":"pool","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"Staked","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"voter","type":"address","indexed":true},
		{"name":"topicId","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"VotingFinalized","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"winnerTopicId","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"WinnerConfirmed","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"submitDeadline","type":"uint64","indexed":false}
	]},
	{"type":"event","name":"DeliverySubmitted","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"contentHash","type":"bytes32","indexed":false},
		{"name":"challengeWindowEnd","type":"uint64","indexed":false}
	]},
	{"type":"event","name":"DeliveryChallenged","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"challenger","type":"address","indexed":true},
		{"name":"reasonHash","type":"bytes32","indexed":false},
		{"name":"evidenceHash","type":"bytes32","indexed":false}
	]},
	{"type":"event","name":"DisputeResolved","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true},
		{"name":"approved","type":"bool","indexed":false}
	]},
	{"type":"event","name":"DeliveryFinalized","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true}
	]},
	{"type":"event","name":"BountyExpired","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":true}
	]}
]`

const governorABIJSON = `[
	{"type":"function","name":"state","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"proposalSnapshot","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"proposalDeadline","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"proposalProposer","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"proposalEta","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"proposalVotes","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[
		{"name":"againstVotes","type":"uint256"},
		{"name":"forVotes","type":"uint256"},
		{"name":"abstainVotes","type":"uint256"}
	]},
	{"type":"function","name":"quorum","stateMutability":"view","inputs":[{"name":"blockNumber","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"hasVoted","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getVotes","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"blockNumber","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"castVote","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"queue","stateMutability":"nonpayable","inputs":[{"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},{"name":"calldatas","type":"bytes[]"},{"name":"descriptionHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[{"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},{"name":"calldatas","type":"bytes[]"},{"name":"descriptionHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"ProposalCreated","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":false},
		{"name":"proposer","type":"address","indexed":false},
		{"name":"targets","type":"address[]","indexed":false},
		{"name":"values","type":"uint256[]","indexed":false},
		{"name":"signatures","type":"string[]","indexed":false},
		{"name":"calldatas","type":"bytes[]","indexed":false},
		{"name":"voteStart","type":"uint256","indexed":false},
		{"name":"voteEnd","type":"uint256","indexed":false},
		{"name":"description","type":"string","indexed":false}
	]},
	{"type":"event","name":"VoteCast","anonymous":false,"inputs":[
		{"name":"voter","type":"address","indexed":true},
		{"name":"proposalId","type":"uint256","indexed":false},
		{"name":"support","type":"uint8","indexed":false},
		{"name":"weight","type":"uint256","indexed":false},
		{"name":"reason","type":"string","indexed":false}
	]},
	{"type":"event","name":"ProposalQueued","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":false},
		{"name":"eta","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ProposalExecuted","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ProposalCanceled","anonymous":false,"inputs":[
		{"name":"proposalId","type":"uint256","indexed":false}
	]}
]`

const tokenABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"delegates","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"delegate","stateMutability":"nonpayable","inputs":[{"name":"delegatee","type":"address"}],"outputs":[]}
]`

var (
	EscrowABI   = mustParseABI(escrowABIJSON)
	GovernorABI = mustParseABI(governorABIJSON)
	TokenABI    = mustParseABI(tokenABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
